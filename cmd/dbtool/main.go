package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/config"
	"github.com/jimclydegm/logotoanythingapp/internal/logging"
	"github.com/jimclydegm/logotoanythingapp/internal/migrations"
)

const usage = "usage: dbtool [up|fix|force <version>|status]"

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cmd, args := "up", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	if err := run(cfg, log, cmd, args); err != nil {
		log.Error("dbtool failed", zap.String("command", cmd), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger, cmd string, args []string) error {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	switch cmd {
	case "up":
		log.Info("applying migrations")
		return migrations.Up(db, log)

	case "fix":
		log.Info("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			return err
		}
		log.Info("database fixed")
		return nil

	case "force":
		if len(args) < 1 {
			return fmt.Errorf("%s", usage)
		}
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[0])
		}
		log.Info("forcing database version", zap.Uint64("version", v))
		return migrations.ForceVersion(db, uint(v))

	case "status":
		status, err := migrations.CurrentStatus(db)
		if err != nil {
			return err
		}
		log.Info("migration status",
			zap.Uint("version", status.Version),
			zap.Bool("dirty", status.Dirty),
			zap.Bool("fresh", status.Fresh),
		)
		return nil

	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
}
