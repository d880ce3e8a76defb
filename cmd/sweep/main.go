package main

import (
	"context"
	"database/sql"
	"flag"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/rl1809/requisition-fillrate/internal/adapter/storage"
	"github.com/rl1809/requisition-fillrate/internal/config"
	"github.com/rl1809/requisition-fillrate/internal/core/service"
	"github.com/rl1809/requisition-fillrate/internal/logger"
)

// sweep cancels every draft or web-quote requisition whose validity date has
// passed, then exits. Intended for cron.
//
//	go run ./cmd/sweep -timeout=10m
func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the sweep after this long")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.IsDev())
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatal("failed to open mysql", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}

	requisitions := service.NewRequisitionService(storage.NewMySQLAdapter(db), nil, log, cfg.Sweep.BatchSize)

	log.Info("running expiration sweep", zap.Int("batch_size", cfg.Sweep.BatchSize))
	n, err := requisitions.ExpireSweep(ctx)
	if err != nil {
		log.Fatal("expiration sweep failed", zap.Int("cancelled", n), zap.Error(err))
	}
	log.Info("expiration sweep completed", zap.Int("cancelled", n))
}
