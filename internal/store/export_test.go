package store

import "context"

// Truncate empties the measurements table.
func Truncate(ctx context.Context, s *Postgres) error {
	return s.db.WithContext(ctx).Exec(`TRUNCATE TABLE measurements RESTART IDENTITY`).Error
}
