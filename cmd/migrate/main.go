package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/auth"
	"residencial.org/internal/config"
	"residencial.org/internal/obs"
	"residencial.org/internal/seed"
	"residencial.org/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	cfg, err := config.Parse()
	if err != nil {
		log.Fatal(err)
	}
	dsn := flag.String("database-url", cfg.DatabaseURL, "postgres:// or sqlite:// database URL")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing database URL: provide via -database-url or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	logger, err := obs.NewLogger(cfg.LogLevel, "console", "residencial-migrate")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sqlstore.Open(ctx, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr, err := db.Migrations()
	if err != nil {
		log.Fatalf("load migrations: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		if err = mgr.Up(ctx); err != nil {
			break
		}
		seeder := seed.New(sqlstore.NewRoles(db), sqlstore.NewPersons(db), auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}, logger)
		err = seeder.Run(ctx, mgr, cfg.Seed)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		logger.Error("migrate failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}
