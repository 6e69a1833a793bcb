package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// applyDDL выполняет map[name]sql. Ожидается idempotent DDL
// (create ... if not exists).
func applyDDL(db *sql.DB, ddl map[string]string) error {
	// стабильно: по имени
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// pgx/stdlib возвращает *pgconn.PgError; duplicate_object (42710)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42710" {
				log.Debug().Str("constraint", pgErr.ConstraintName).Msg("DDL skipped (already exists)")
				continue
			}
			// подстраховка по фразе (на случай других объектов)
			e := strings.ToLower(err.Error())
			if strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
				log.Debug().Err(err).Msg("DDL skipped (already exists)")
				continue
			}
			return fmt.Errorf("DDL apply failed: %w", err)
		}
	}
	return nil
}
