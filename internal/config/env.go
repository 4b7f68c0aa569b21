package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/scrypt"

	"backtester/internal/logger"
)

const encryptedPrefix = "ENC:"

// EnvManager manages environment variable configuration
type EnvManager struct {
	encryptionKey []byte
	prefix        string
}

// NewEnvManager creates a new environment variable manager
func NewEnvManager(encryptionKey string, prefix string) *EnvManager {
	if prefix == "" {
		prefix = EnvPrefix
	}
	if encryptionKey == "" {
		encryptionKey = os.Getenv(prefix + "ENCRYPTION_KEY")
	}

	// 由口令派生AES密钥
	key, _ := scrypt.Key([]byte(encryptionKey), []byte("backtester-salt"), 32768, 8, 1, 32)

	return &EnvManager{
		encryptionKey: key,
		prefix:        prefix,
	}
}

// GetString gets a string environment variable
func (em *EnvManager) GetString(key string, defaultValue string) string {
	value := os.Getenv(em.envKey(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetInt gets an integer environment variable
func (em *EnvManager) GetInt(key string, defaultValue int) int {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

// GetBool gets a boolean environment variable
func (em *EnvManager) GetBool(key string, defaultValue bool) bool {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	return defaultValue
}

// GetDuration gets a duration environment variable
func (em *EnvManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

// GetEncryptedString 读取可能带 ENC: 前缀的密文变量；未设置时解密默认值
func (em *EnvManager) GetEncryptedString(key string, defaultValue string) string {
	value := em.GetString(key, defaultValue)
	resolved, err := em.Resolve(value)
	if err != nil {
		logger.Warn("Failed to decrypt secret", "key", em.envKey(key), "error", err)
		return ""
	}
	return resolved
}

// Resolve 解密 ENC: 前缀的值，其它值原样返回
func (em *EnvManager) Resolve(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	return em.decrypt(strings.TrimPrefix(value, encryptedPrefix))
}

// Encrypt 加密并加上 ENC: 前缀
func (em *EnvManager) Encrypt(value string) (string, error) {
	encrypted, err := em.encrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt value: %w", err)
	}
	return encryptedPrefix + encrypted, nil
}

// SetEncryptedString sets an encrypted string environment variable
func (em *EnvManager) SetEncryptedString(key string, value string) error {
	if value == "" {
		return em.SetString(key, "")
	}
	encrypted, err := em.Encrypt(value)
	if err != nil {
		return err
	}
	return em.SetString(key, encrypted)
}

// SetString sets a string environment variable
func (em *EnvManager) SetString(key string, value string) error {
	return os.Setenv(em.envKey(key), value)
}

func (em *EnvManager) envKey(key string) string {
	return em.prefix + strings.ToUpper(key)
}

func (em *EnvManager) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(plaintext))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], []byte(plaintext))

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func (em *EnvManager) decrypt(encryptedText string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encryptedText)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}

	if len(ciphertext) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	iv := ciphertext[:aes.BlockSize]
	ciphertext = ciphertext[aes.BlockSize:]

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(ciphertext, ciphertext)

	return string(ciphertext), nil
}

// LoadFromFile 从 dotenv 文件加载环境变量，已存在的变量不覆盖
func (em *EnvManager) LoadFromFile(filename string) error {
	if err := godotenv.Load(filename); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", filename, err)
	}
	return nil
}

// ValidateRequired checks if all required environment variables are set
func (em *EnvManager) ValidateRequired(required []string) error {
	var missing []string

	for _, key := range required {
		envKey := em.envKey(key)
		if os.Getenv(envKey) == "" {
			missing = append(missing, envKey)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	return nil
}
