// Command storage-init creates the documents table and events queue in the
// configured Azure storage account.
package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/config"
	"taskboard-api/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	if cfg.Storage.ConnectionString == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := storage.Provision(ctx, cfg.Storage.ConnectionString, cfg.Storage.DocumentsTable, cfg.Storage.EventsQueue, log.StandardLogger()); err != nil {
		log.Fatalf("provision: %v", err)
	}
	log.Info("storage init complete")
}
