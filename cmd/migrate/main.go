package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/subosito/gotenv"

	"github.com/temmyjay001/payments-core/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = gotenv.Load()

	dsn := flag.String("database", os.Getenv("DATABASE_URL"), "PostgreSQL DSN, defaults to DATABASE_URL")
	flag.Parse()

	if strings.TrimSpace(*dsn) == "" {
		return errors.New("-database flag or DATABASE_URL is required")
	}

	args := flag.Args()
	if len(args) == 0 {
		return errors.New("command required (up|down|version)")
	}

	mg, err := storage.NewMigrator(*dsn)
	if err != nil {
		return err
	}
	defer mg.Close()

	switch args[0] {
	case "up":
		return mg.Up()
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid down steps %q: %w", args[1], err)
			}
			steps = n
		}
		return mg.Down(steps)
	case "version":
		version, dirty, err := mg.Version()
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q (expected up, down or version)", args[0])
	}
}
