// Applies the pipeline schema: every .sql file in migrations/ in name
// order, one transaction per file. Files are written to be re-runnable
// (CREATE TABLE IF NOT EXISTS and friends), so the runner needs no
// version bookkeeping.
//
// Usage:
//
//	migrate [dir]    apply migrations from dir (default "migrations")
//	migrate --list   show the pipeline tables and their row counts
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// pipelineTables are the tables this schema owns, in dependency order.
var pipelineTables = []string{
	"brands",
	"models",
	"model_years",
	"page_views",
	"vehicle_signals",
	"category_slug_hints",
	"category_vehicle_map",
	"campaigns",
	"campaign_targets",
	"campaign_messages",
	"visitor_customers",
	"onsite_notices",
	"pipeline_workers",
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("[Migrate] DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("[Migrate] connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("[Migrate] ping: %v", err)
	}
	log.Println("[Migrate] Connected to database")

	if listOnly {
		listTables(db)
		return
	}
	applyDir(db, dir)
}

// listTables prints each pipeline table with its row count, or MISSING
// when the migrations have not created it yet.
func listTables(db *sql.DB) {
	for _, table := range pipelineTables {
		var exists bool
		err := db.QueryRow(
			"SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname='public' AND tablename=$1)",
			table).Scan(&exists)
		if err != nil {
			log.Fatalf("[Migrate] list %s: %v", table, err)
		}
		if !exists {
			fmt.Printf("  %-22s MISSING\n", table)
			continue
		}
		var count int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			log.Fatalf("[Migrate] count %s: %v", table, err)
		}
		fmt.Printf("  %-22s %d rows\n", table, count)
	}
}

func applyDir(db *sql.DB, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("[Migrate] read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, errCount int
	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("[Migrate] read %s: %v", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Printf("BEGIN ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			errCount++
		} else {
			tx.Commit()
			fmt.Println("OK")
			okCount++
		}
	}
	log.Printf("[Migrate] Done: %d OK, %d errors", okCount, errCount)
}
