package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"backtester/internal/config"
	"backtester/internal/database"
	"backtester/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
		up         = flag.Bool("up", false, "运行数据库迁移")
		down       = flag.Bool("down", false, "回滚数据库迁移")
		version    = flag.Bool("version", false, "显示当前迁移版本")
		force      = flag.Int("force", -1, "强制设置迁移版本（用于修复脏状态）")
		help       = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	log := logger.Init(logger.Config{Level: logger.LevelInfo, Format: logger.FormatText, Output: "stdout"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db.DB, log)
	if err != nil {
		log.Fatal("Failed to create migrator", "error", err)
	}
	defer migrator.Close()

	switch {
	case *down:
		exitOnError(log, "Rollback failed", migrator.Down())
		log.Info("Migrations rolled back")
	case *version:
		v, dirty, err := migrator.Version()
		exitOnError(log, "Failed to read migration version", err)
		fmt.Printf("当前迁移版本: %d (dirty=%t)\n", v, dirty)
	case *force >= 0:
		exitOnError(log, "Failed to force migration version", migrator.Force(*force))
		log.Info("Migration version forced", "version", *force)
	case *up:
		fallthrough
	default:
		exitOnError(log, "Migration failed", migrator.Up())
		log.Info("Migrations applied")
	}
}

func exitOnError(log logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	log.Error(msg, "error", err)
	os.Exit(1)
}

func showHelp() {
	fmt.Println("backtester 数据库迁移工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  migrate [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  -config string   配置文件路径 (默认: configs/config.yaml)")
	fmt.Println("  -up              运行数据库迁移 (默认)")
	fmt.Println("  -down            回滚全部迁移")
	fmt.Println("  -version         显示当前迁移版本")
	fmt.Println("  -force int       强制设置迁移版本（用于修复脏状态）")
	fmt.Println("  -help            显示帮助信息")
}
