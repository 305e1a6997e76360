package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
)

// StaticFlags answers the same value for every project.
type StaticFlags bool

func (f StaticFlags) DispatchEnabled(context.Context, string) bool {
	return bool(f)
}

// DBFlags reads the per-project dispatch flag from project_settings.
// Projects without a row, and lookup errors, fall back to Default so
// a flaky settings store never decides the pipeline's fate.
type DBFlags struct {
	DB      *sql.DB
	Log     *slog.Logger
	Default bool
}

func (f DBFlags) DispatchEnabled(ctx context.Context, projectID string) bool {
	var enabled bool
	err := f.DB.QueryRowContext(ctx,
		`SELECT dispatch_enabled FROM project_settings WHERE project_id = $1`,
		projectID,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return f.Default
	}
	if err != nil {
		if f.Log != nil {
			f.Log.Warn("dispatch flag lookup failed", "project_id", projectID, "error", err)
		}
		return f.Default
	}
	return enabled
}
