package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"storefront/api/internal/retry"
)

// connectPolicy covers a database container that is still starting when the
// API boots.
var connectPolicy = retry.Policy{
	MaxTries:        6,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
	Jitter:          0.2,
}

// Open returns a pooled handle once the server answers a ping.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	configurePool(db)

	logger := zerolog.Ctx(ctx)
	attempt := 0
	_, err = retry.Do(ctx, connectPolicy, func() (struct{}, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("database not reachable yet")
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func configurePool(db *sql.DB) {
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)
}
