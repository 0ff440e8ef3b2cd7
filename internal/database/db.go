package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var DB *pgxpool.Pool

func ConnectDB() {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		log.Fatalf("unable to parse pgx config: %v", err)
	}

	DB, err = pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		log.Fatalf("unable to create pgx pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := DB.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	log.Printf("Connected to database at %s:%s", os.Getenv("PG_HOST"), os.Getenv("PG_PORT"))
}

// Migrate creates the schema if it does not exist yet. Safe to run on every
// startup.
func Migrate(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS lobbies (
		id            uuid PRIMARY KEY,
		name          text UNIQUE NOT NULL,
		password_hash text NOT NULL,
		is_public     boolean NOT NULL DEFAULT true,
		settings      jsonb NOT NULL DEFAULT '{}'::jsonb,
		created_at    timestamptz NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS players (
		id           uuid PRIMARY KEY,
		lobby_id     uuid NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
		username     text NOT NULL,
		score        integer NOT NULL DEFAULT 0,
		is_connected boolean NOT NULL DEFAULT false,
		is_spectator boolean NOT NULL DEFAULT false,
		last_seen    timestamptz,
		joined_at    timestamptz NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS players_lobby_idx ON players(lobby_id);
	CREATE TABLE IF NOT EXISTS rounds (
		id          uuid PRIMARY KEY,
		lobby_id    uuid NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
		number      integer NOT NULL,
		wisher_id   uuid,
		wish_text   text,
		submissions jsonb NOT NULL DEFAULT '{}'::jsonb,
		votes       jsonb NOT NULL DEFAULT '{}'::jsonb,
		finished    boolean NOT NULL DEFAULT false,
		UNIQUE (lobby_id, number)
	);
	`
	_, err := DB.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
