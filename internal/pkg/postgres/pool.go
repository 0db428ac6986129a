package postgres

import (
	"context"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates pgx pool from connection URL
func NewPool(ctx context.Context, URL string) (*pgxpool.Pool, error) {
	if URL == "" {
		return nil, fmt.Errorf("no db URL")
	}
	dbConfig, err := pgxpool.ParseConfig(URL)
	if err != nil {
		return nil, fmt.Errorf("can't parse db config: %w", err)
	}
	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")
	res, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("can't init db pool: %w", err)
	}
	return res, nil
}
