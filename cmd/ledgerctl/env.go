package main

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/config"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
)

// env is the configuration, logger and database shared by every command.
type env struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: "ledgerctl",
		Version:     Version,
	})

	db, err := database.New(ctx, database.Config{
		URL:         cfg.Database.URL,
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    2,
		MinConns:    1,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
		TxTimeout:   cfg.Database.TxTimeout,
		LockTimeout: cfg.Database.LockTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func (e *env) Close() {
	e.db.Close()
}
