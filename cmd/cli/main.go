package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/anchor-platform/internal/config"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/internal/repository"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/pg"
)

const usage = `usage:
  cli migrate [up|down|status] [--dir=./migrations] [--env=.env]
  cli seed <kind> <sep> [--amount=100] [--env=.env]`

func main() {
	logger.Named("cli")
	defer logger.Sync()

	args := positional()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	switch args[0] {
	case "migrate":
		command := pg.MigrateUp
		if len(args) > 1 {
			command = args[1]
		}
		err = pg.Migrate(pgConf, getMigrationPath(), command)
		if err != nil {
			logger.Error("migration: error running migrations", "error", err, "command", command)
			os.Exit(1)
		}
	case "seed":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		txn, err := seed(pgConf, model.Kind(args[1]), model.Protocol(args[2]))
		if err != nil {
			logger.Error("seed: error creating transaction", "error", err)
			os.Exit(1)
		}
		fmt.Println(txn.ID)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// seed inserts a fresh transaction in the initial status of its kind.
func seed(pgConf pg.Config, kind model.Kind, sep model.Protocol) (*model.Transaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if !sep.Valid() {
		return nil, fmt.Errorf("unknown sep %q", sep)
	}
	db, err := pg.CreateReadWrite(pgConf, pgConf, false)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	txn := &model.Transaction{
		ID:             uuid.NewString(),
		Protocol:       sep,
		Kind:           kind,
		Status:         kind.InitialStatus(),
		AmountExpected: &model.Amount{Amount: flagValue("--amount=", "100")},
		StartedAt:      time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return repository.NewTransactionRepository(db).Create(ctx, txn)
}

func positional() []string {
	var out []string
	for _, v := range os.Args[1:] {
		if !strings.HasPrefix(v, "--") {
			out = append(out, v)
		}
	}
	return out
}

func flagValue(prefix, fallback string) string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return fallback
}

func getEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--dir=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed migrations dir, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return "./migrations"
}
