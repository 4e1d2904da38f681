package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

func main() {
	opts := options{}
	flag.StringVar(&opts.api, "api", envOr("ESPORTES_API", "http://localhost:8080/api/v1"), "API base URL, including /api/v1")
	flag.StringVar(&opts.username, "user", "", "username used when no saved session is valid")
	flag.Int64Var(&opts.classID, "class", 0, "class id")
	flag.StringVar(&opts.date, "date", "", "class date (YYYY-MM-DD), defaults to today")
	flag.BoolVar(&opts.allPresent, "all-present", false, "mark every student present")
	flag.StringVar(&opts.present, "present", "", "comma separated student ids to mark present")
	flag.StringVar(&opts.absent, "absent", "", "comma separated student ids to mark absent")
	flag.StringVar(&opts.clear, "clear", "", "comma separated student ids to leave unmarked")
	flag.BoolVar(&opts.logout, "logout", false, "revoke the saved session and exit")
	flag.StringVar(&opts.tokenFile, "token-file", defaultTokenFile(), "where the session token is kept")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		stop()
		log.Fatalf("chamada: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gerenciaesportes", "token")
}
