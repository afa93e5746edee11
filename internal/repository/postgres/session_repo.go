package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/applyflow/internal/domain"
)

// SessionRepo - архив завершенных сессий
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = 14

// WriteBatch пишет пачку сессий одним INSERT. Повторная запись той же сессии игнорируется.
func (r *SessionRepo) WriteBatch(ctx context.Context, sessions []domain.AutomationSession) error {
	if len(sessions) == 0 {
		return nil
	}

	var placeholders strings.Builder
	vals := make([]any, 0, len(sessions)*sessionColumns)

	for i, s := range sessions {
		p := i * sessionColumns
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for c := 1; c <= sessionColumns; c++ {
			if c > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", p+c)
		}
		placeholders.WriteString(")")

		cfg, err := json.Marshal(s.Config)
		if err != nil {
			return fmt.Errorf("postgres: encode config of %s: %w", s.ID, err)
		}
		criteria, err := json.Marshal(s.Criteria)
		if err != nil {
			return fmt.Errorf("postgres: encode criteria of %s: %w", s.ID, err)
		}
		results, err := json.Marshal(s.Results)
		if err != nil {
			return fmt.Errorf("postgres: encode results of %s: %w", s.ID, err)
		}

		vals = append(vals,
			s.ID, s.UserID, string(s.Status), cfg, criteria,
			s.StartedAt, s.CompletedAt, s.Duration.Milliseconds(),
			s.TotalFound, s.Created, s.Submitted, s.SuccessRate, s.Error, results,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO automation_sessions (id, user_id, status, config, criteria, started_at, completed_at, duration_ms,
			total_found, applications_created, applications_submitted, success_rate, error, results)
		VALUES %s
		ON CONFLICT (id) DO NOTHING`, placeholders.String())

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write sessions: %w", err)
	}
	return nil
}

// ListRecent - последние завершенные сессии для восстановления истории
func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]domain.AutomationSession, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, user_id, status, config, criteria, started_at, completed_at, duration_ms,
			total_found, applications_created, applications_submitted, success_rate, error, results
		FROM automation_sessions
		ORDER BY completed_at DESC NULLS LAST
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.AutomationSession
	for rows.Next() {
		var (
			s                      domain.AutomationSession
			status                 string
			cfg, criteria, results []byte
			completedAt            sql.NullTime
			durationMs             int64
			errText                sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.UserID, &status, &cfg, &criteria, &s.StartedAt, &completedAt, &durationMs,
			&s.TotalFound, &s.Created, &s.Submitted, &s.SuccessRate, &errText, &results); err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		s.Status = domain.SessionStatus(status)
		s.Duration = time.Duration(durationMs) * time.Millisecond
		s.Error = errText.String
		if completedAt.Valid {
			t := completedAt.Time
			s.CompletedAt = &t
		}
		if err := decodeJSON(cfg, &s.Config); err != nil {
			return nil, fmt.Errorf("postgres: decode config of %s: %w", s.ID, err)
		}
		if err := decodeJSON(criteria, &s.Criteria); err != nil {
			return nil, fmt.Errorf("postgres: decode criteria of %s: %w", s.ID, err)
		}
		if err := decodeJSON(results, &s.Results); err != nil {
			return nil, fmt.Errorf("postgres: decode results of %s: %w", s.ID, err)
		}
		s.Processed = len(s.Results)
		out = append(out, s)
	}
	return out, rows.Err()
}

func decodeJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
