package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"backtester/internal/config"
	"backtester/internal/logger"
)

// DefaultTopic 默认主题
const DefaultTopic = "backtest.jobs"

// JobEvent 任务状态变化事件
type JobEvent struct {
	JobID     string    `json:"request_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher 发布任务事件
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

// Noop 不发布任何事件
type Noop struct{}

func (Noop) Publish(context.Context, JobEvent) error { return nil }

func (Noop) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 以任务ID为 key 写入 Kafka，同一任务的事件落在同一分区
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    logger.Logger
}

// NewKafkaPublisher 创建 Kafka 发布者
func NewKafkaPublisher(cfg config.KafkaConfig, log logger.Logger) *KafkaPublisher {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           5 * time.Second,
	}
	log.Info("Kafka publisher created", "brokers", cfg.Brokers, "topic", topic)
	return &KafkaPublisher{writer: writer, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.JobID), Value: data, Time: event.Timestamp}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish job event to %s: %w", p.topic, err)
	}
	p.log.Debug("Job event published", logger.FieldJobID, event.JobID, "status", event.Status)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// New 按配置返回 Kafka 发布者或 Noop
func New(cfg config.KafkaConfig, log logger.Logger) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return Noop{}
	}
	return NewKafkaPublisher(cfg, log)
}
