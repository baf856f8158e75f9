// Command reembed-stale finds decisions whose stored embedding no longer
// matches their search text and re-enqueues the reflection-and-embed job for
// them. Useful after changing the search text composition or restoring a
// database snapshot taken mid-pipeline.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./scripts/reembed-stale
//
// The script compares each embedding's content_hash against the hash of the
// decision's current search text and enqueues one background job per stale
// row. The worker picks the jobs up on its next poll; the embed stage is
// idempotent, so re-running this script never duplicates work already queued
// and completed.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kirokuhq/kiroku/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx,
		`SELECT d.id, d.search_text, e.content_hash
		 FROM decisions d
		 JOIN decision_embeddings e ON e.decision_id = d.id
		 WHERE d.status = 'COMPLETED' AND NOT d.is_deleted
		 ORDER BY d.created_at ASC`)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var stale []uuid.UUID
	var total int
	for rows.Next() {
		var (
			id         uuid.UUID
			searchText string
			storedHash string
		)
		if err := rows.Scan(&id, &searchText, &storedHash); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		total++
		if storedHash != pipeline.ContentHash(searchText) {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}

	fmt.Printf("scanned %d embeddings, %d are stale\n", total, len(stale))

	if len(stale) == 0 {
		fmt.Println("nothing to do")
		return nil
	}

	enqueued := 0
	for _, id := range stale {
		_, err := pool.Exec(ctx,
			`INSERT INTO background_jobs (type, payload)
			 VALUES ('EXTRACT_AND_EMBED', jsonb_build_object('decision_id', $1::text))`,
			id.String())
		if err != nil {
			log.Printf("enqueue %s: %v", id, err)
			continue
		}
		enqueued++
	}

	fmt.Printf("enqueued %d/%d re-embed jobs\n", enqueued, len(stale))
	return nil
}
