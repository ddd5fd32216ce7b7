package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/adapter/repo"
)

func main() {
	var (
		idFlag     string
		emailFlag  string
		amountFlag int
		reasonFlag string
	)

	flag.StringVar(&idFlag, "id", "", "user ID to credit (UUID)")
	flag.StringVar(&emailFlag, "email", "", "user email to credit")
	flag.IntVar(&amountFlag, "amount", 0, "credits to grant (must be positive)")
	flag.StringVar(&reasonFlag, "reason", "manual grant", "ledger reason recorded with the grant")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	email := strings.TrimSpace(emailFlag)
	reason := strings.TrimSpace(reasonFlag)

	if userID == "" && email == "" {
		exitWithError(errors.New("either -id or -email must be provided"))
	}
	if amountFlag <= 0 {
		exitWithError(errors.New("-amount must be positive"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	if userID == "" {
		lookupCtx, cancelLookup := context.WithTimeout(context.Background(), 5*time.Second)
		row := pool.QueryRow(lookupCtx, `SELECT id FROM users WHERE email = $1`, email)
		err := row.Scan(&userID)
		cancelLookup()
		if err != nil {
			exitWithError(fmt.Errorf("failed to find user %s: %w", email, err))
		}
	}

	credits := repo.NewCreditRepository(pool)

	grantCtx, cancelGrant := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelGrant()
	if err := credits.Grant(grantCtx, userID, amountFlag, reason); err != nil {
		exitWithError(fmt.Errorf("failed to grant credits: %w", err))
	}

	balance, err := credits.Balance(grantCtx, userID)
	if err != nil {
		exitWithError(fmt.Errorf("granted, but failed to read balance: %w", err))
	}
	fmt.Printf("Granted %d credits to %s (balance now %d)\n", amountFlag, userID, balance)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
