package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"inkpost.org/internal/migrate"
	"inkpost.org/internal/obs"
	"inkpost.org/migrations"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded schema)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded seeds)")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	logger, err := obs.NewLogger(os.Getenv("LOG_LEVEL"), true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db, dirOr(*migrationsPath, migrations.Schema()),
		migrate.WithSeeds(dirOr(*seedsPath, migrations.Seeds())),
		migrate.WithLogger(logger),
	)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		logger.Info("migrations complete", zap.Int("applied", len(applied)))
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			logger.Info("rolled back", zap.String("name", name))
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		logger.Info("seeds complete", zap.Int("applied", len(applied)))
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}

func dirOr(dir string, embedded fs.FS) fs.FS {
	if dir == "" {
		return embedded
	}
	return os.DirFS(dir)
}
