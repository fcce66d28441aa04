package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/cordum/oncebox/core/gateway"
	"github.com/cordum/oncebox/core/infra/buildinfo"
	"github.com/cordum/oncebox/core/infra/config"
)

func main() {
	log.Println("oncebox server starting...")
	buildinfo.Log("oncebox-server")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := gateway.Run(ctx, cfg); err != nil {
		log.Fatalf("oncebox server error: %v", err)
	}
}
