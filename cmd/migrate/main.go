// Command migrate applies or reports the schema. The server only migrates on
// startup outside production, so deployments run this first.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"tripchat/internal/config"
	"tripchat/internal/database"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: migrate <up|status>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Open with the production profile so the connection itself never migrates.
	openCfg := *cfg
	openCfg.Env = "production"
	db, err := database.Open(postgres.Open(database.DSN(cfg)), &openCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Println("schema up to date")
	case "status":
		return status(db)
	default:
		return usage()
	}
	return nil
}

func status(db *gorm.DB) error {
	missing := 0
	for _, m := range database.PersistentModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return fmt.Errorf("parse model: %w", err)
		}
		state := "ok"
		if !db.Migrator().HasTable(m) {
			state = "missing"
			missing++
		}
		log.Printf("%-28s %s", stmt.Schema.Table, state)
	}
	log.Printf("tables=%d missing=%d", len(database.PersistentModels()), missing)
	return nil
}
