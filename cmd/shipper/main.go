package main

import (
	"context"
	"log"
	"os"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/seantiz/shipper/internal/api"
	"github.com/seantiz/shipper/internal/app"
	"github.com/seantiz/shipper/internal/config"
	"github.com/seantiz/shipper/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Info("shipper: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"backends", cfg.Backends,
		"local_root", cfg.LocalRoot,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg, err := app.NewRegistry(context.Background(), cfg, osfs.New(cfg.LocalRoot), db, logger)
	if err != nil {
		log.Fatalf("failed to start uploaders: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, db, reg, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
