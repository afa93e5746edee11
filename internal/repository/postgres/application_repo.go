package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
)

// ApplicationRepo — ApplicationStore поверх Postgres
type ApplicationRepo struct {
	db *sql.DB
}

func NewApplicationRepo(db *sql.DB) *ApplicationRepo {
	return &ApplicationRepo{db: db}
}

func (r *ApplicationRepo) CreateApplicationRecord(ctx context.Context, rec domain.ApplicationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = domain.ApplicationStatusCreated
	}
	query := `
		INSERT INTO applications (id, user_id, session_id, job_id, job_title, company, job_url, resume_text, cover_letter, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.UserID, rec.SessionID, rec.JobID, rec.JobTitle, rec.Company,
		rec.JobURL, rec.ResumeText, rec.CoverLetter, rec.Status,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres: create application: %w", err)
	}
	return id, nil
}

// MarkSubmitted переводит заявку в submitted после подачи
func (r *ApplicationRepo) MarkSubmitted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE applications SET status = $1, updated_at = NOW() WHERE id = $2`,
		domain.ApplicationStatusSubmitted, id)
	if err != nil {
		return fmt.Errorf("postgres: mark submitted: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("postgres: application %s: %w", id, connectors.ErrNotFound)
	}
	return nil
}

func (r *ApplicationRepo) GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	query := `SELECT user_id, full_name, email, phone, resume_text, skills, extra FROM user_profiles WHERE user_id = $1`

	var (
		p             domain.UserProfile
		phone         sql.NullString
		skills, extra []byte
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.FullName, &p.Email, &phone, &p.ResumeText, &skills, &extra,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProfile{}, fmt.Errorf("postgres: profile %s: %w", userID, connectors.ErrNotFound)
		}
		return domain.UserProfile{}, fmt.Errorf("postgres: get profile: %w", err)
	}
	p.Phone = phone.String
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &p.Skills); err != nil {
			return domain.UserProfile{}, fmt.Errorf("postgres: decode skills: %w", err)
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &p.Extra); err != nil {
			return domain.UserProfile{}, fmt.Errorf("postgres: decode extra: %w", err)
		}
	}
	return p, nil
}
