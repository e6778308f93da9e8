package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pinstrategy/internal/adapter/repo"
	"pinstrategy/internal/infra"
	"pinstrategy/internal/infra/credentials"
)

func main() {
	var (
		keyFlag  string
		showFlag bool
	)
	flag.StringVar(&keyFlag, "key", "", "Gemini API key to store (falls back to GEMINI_API_KEY)")
	flag.BoolVar(&showFlag, "show", false, "Report where the API would resolve its key from, without storing")
	flag.Parse()

	infra.LoadDotEnv()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, dbURL, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL")).With().Str("cmd", "geminikey").Logger()
	runner := infra.NewSQLRunner(pool, logger)
	if err := repo.NewRunRepository(runner).EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare schema: %v\n", err)
		os.Exit(1)
	}
	store := credentials.NewStore(runner)

	if showFlag {
		key, source, err := credentials.ResolveGeminiKey(ctx, store, os.Getenv("GEMINI_API_KEY"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("source=%s configured=%t\n", source, key != "")
		return
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "GEMINI API key is required via -key or environment")
		os.Exit(1)
	}

	if err := store.SetGeminiAPIKey(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist gemini api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("GEMINI API key stored successfully")
}
