package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"qback/internal/config"
	"qback/internal/database"
)

func main() {
	var (
		configPath     = flag.String("config", "configs/config.yaml", "path to configuration file")
		migrationsPath = flag.String("path", "migrations", "path to migration files")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		fail("database connection failed: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, *migrationsPath)
	if err != nil {
		fail("failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch flag.Arg(0) {
	case "up", "":
		if err := migrator.Up(); err != nil {
			fail("%v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := migrator.Down(); err != nil {
			fail("%v", err)
		}
		fmt.Println("migrations rolled back")
	case "version":
		version, err := migrator.Version()
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("version %d\n", version)
	case "force":
		if flag.Arg(1) == "" {
			fail("force requires a version argument")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			fail("invalid version %q", flag.Arg(1))
		}
		if err := migrator.Force(version); err != nil {
			fail("%v", err)
		}
		fmt.Printf("forced version %d\n", version)
	default:
		fail("unknown command %q (want up, down, version or force)", flag.Arg(0))
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
