// Package main prunes old rows from the pipeline's tables: journal
// entries and minute candles past a retention window. Dry-run by
// default; -yes actually deletes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	retainDays := flag.Int("retain-days", 30, "keep rows newer than this many days")
	yes := flag.Bool("yes", false, "actually delete; default is a dry run that only counts")
	flag.Parse()

	logger := log.New(os.Stderr, "[clear-trades] ", log.LstdFlags)

	_ = godotenv.Load()
	dbURL := os.Getenv("ALGO_DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("ALGO_DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	cutoff := time.Now().AddDate(0, 0, -*retainDays)
	tables := []struct{ name, tsCol string }{
		{"trades", "ts"},
		{"candles", "ts"},
	}

	for _, tbl := range tables {
		if !*yes {
			var n int64
			err := pool.QueryRow(ctx,
				fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s < $1`, tbl.name, tbl.tsCol), cutoff).Scan(&n)
			if err != nil {
				logger.Fatalf("count %s: %v", tbl.name, err)
			}
			fmt.Printf("%s: %d row(s) older than %s (dry run, pass -yes to delete)\n",
				tbl.name, n, cutoff.Format("2006-01-02"))
			continue
		}

		tag, err := pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, tbl.name, tbl.tsCol), cutoff)
		if err != nil {
			logger.Fatalf("delete from %s: %v", tbl.name, err)
		}
		fmt.Printf("%s: deleted %d row(s) older than %s\n",
			tbl.name, tag.RowsAffected(), cutoff.Format("2006-01-02"))
	}
}
