package dispatch

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// LedgerSender appends commands to the dispatch_commands table. Each
// row carries a SHA-256 over the canonical command JSON so downstream
// consumers can verify the payload was not altered in transit.
type LedgerSender struct {
	DB *sql.DB
}

func NewLedgerSender(db *sql.DB) (*LedgerSender, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &LedgerSender{DB: db}, nil
}

func (s *LedgerSender) Send(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	integrity := integritySHA256(payload)

	_, err = s.DB.ExecContext(
		ctx,
		`INSERT INTO dispatch_commands (
			command_id,
			run_id,
			project_id,
			command_type,
			payload,
			occurred_at,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		cmd.CommandID,
		cmd.RunID,
		cmd.ProjectID,
		string(cmd.Type),
		payload,
		cmd.OccurredAt,
		integrity,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch command: %w", err)
	}
	return nil
}

func integritySHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
