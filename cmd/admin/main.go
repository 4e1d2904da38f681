package main

import (
	"context"
	"log"
	"os"
	"time"

	"gerenciaesportes/internal/app"
	"gerenciaesportes/internal/auth"
	"gerenciaesportes/internal/db"
)

var logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lshortfile)

func main() {
	cfg := app.LoadConfig()

	conn, err := db.OpenPostgresWithConfig(context.Background(), cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		logger.Fatal(err)
	}

	cli := commandLine{
		migrate: func(ctx context.Context, command string, args ...string) error {
			return db.Migrate(ctx, conn, command, args...)
		},
		users: auth.NewService(conn, auth.ServiceConfig{JWTSecret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL}),
		out:   os.Stdout,
	}
	err = cli.run(os.Args)
	_ = conn.Close()
	if err != nil {
		if err != errHelp {
			logger.Printf("error: %s", err)
		}
		os.Exit(1)
	}
}
