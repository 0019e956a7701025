// Command migrate manages the sqlite schema version.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"keyword_bot/migrations"
)

// commands maps each subcommand to its goose operation, in usage order.
var commands = []struct {
	name string
	help string
	run  func(*sql.DB, string, ...goose.OptionsFunc) error
}{
	{"up", "apply all pending migrations", goose.Up},
	{"up-one", "apply the next pending migration", goose.UpByOne},
	{"down", "undo the most recent migration", goose.Down},
	{"status", "print the state of each migration", goose.Status},
	{"version", "print the current schema version", goose.Version},
	{"reset", "undo every migration", goose.Reset},
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.Files)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	name := args[0]
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if err := cmd.run(db, "."); err != nil {
			log.Fatalf("%s: %v", name, err)
		}
		return
	}

	usage()
	log.Fatalf("unknown command: %s", name)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate [-db path] <command>")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", cmd.name, cmd.help)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
