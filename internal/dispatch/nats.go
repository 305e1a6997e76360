package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "verdict.dispatch"

// NATSSender publishes commands to per-project subjects on the
// pipeline bus: <prefix>.<project_id>.<command_type>.
type NATSSender struct {
	Conn          *nats.Conn
	SubjectPrefix string
}

func NewNATSSender(conn *nats.Conn, subjectPrefix string) (*NATSSender, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	subjectPrefix = strings.TrimSpace(subjectPrefix)
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	return &NATSSender{Conn: conn, SubjectPrefix: subjectPrefix}, nil
}

func (s *NATSSender) Send(_ context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.%s", s.SubjectPrefix, subjectToken(cmd.ProjectID), cmd.Type)
	if err := s.Conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// subjectToken strips characters that would split or wildcard a NATS
// subject.
func subjectToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return replacer.Replace(value)
}
