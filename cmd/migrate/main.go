package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/sertika/cbt-backend/internal/config"
)

func main() {
	dir := flag.String("path", "migrations", "Path to migration files")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Migrate init: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return
	}

	switch args[0] {
	case "up":
		run(m.Up, "up")
	case "down":
		run(m.Down, "down")
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("Version: %v", err)
		}
		fmt.Printf("Version: %d, Dirty: %t\n", v, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal("force requires a version argument")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", args[1], err)
		}
		if err := m.Force(v); err != nil {
			log.Fatalf("Force: %v", err)
		}
		fmt.Printf("Forced version to %d\n", v)
	default:
		usage()
	}
}

func run(step func() error, name string) {
	if err := step(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Migrate %s: %v", name, err)
	}
	fmt.Printf("Migrated %s successfully\n", name)
}

func usage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
