package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longshot-live/longshot/internal/dbconfig"
	"github.com/longshot-live/longshot/internal/questions"
)

func main() {
	ctx := context.Background()

	path := "questions.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load and validate the catalog
	pool, err := questions.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load catalog: %v\n", err)
		os.Exit(1)
	}
	catalog := pool.Questions()

	// 2) Connect to DB
	cfg := dbconfig.NewConfigFromEnv()
	db, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3) Seed questions
	total, inserted, skipped, errs := len(catalog), 0, 0, 0
	for _, q := range catalog {
		tag, err := db.Exec(ctx, `
            INSERT INTO questions (
              text, left_option, right_option, answer
            ) VALUES ($1,$2,$3,$4)
            ON CONFLICT (text) DO NOTHING
        `, q.Text, q.Left, q.Right, q.Answer)
		if err != nil {
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Printf(
		"Questions seed: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs,
	)
}
