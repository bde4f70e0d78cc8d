package database

import (
	"context"
	"fmt"

	dbsql "github.com/jordanlinford/ClubandCover-sub000/pkg/database/sql"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
)

// ApplySchema executes the embedded DDL. Every statement is guarded with
// IF NOT EXISTS, so running it on each boot is safe.
func ApplySchema(ctx context.Context, db PostgresConn, logger logging.Logger) error {
	content, err := dbsql.Content.ReadFile("schema/bursar.sql")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Applied database schema")
	return nil
}
