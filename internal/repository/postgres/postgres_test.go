package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func TestApplicationRepo_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewApplicationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO applications")).
		WithArgs(sqlmock.AnyArg(), "u1", "s1", "j1", "Go Engineer", "Acme", "", "resume", "letter", domain.ApplicationStatusCreated).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1"))

	id, err := repo.CreateApplicationRecord(context.Background(), domain.ApplicationRecord{
		UserID: "u1", SessionID: "s1", JobID: "j1", JobTitle: "Go Engineer", Company: "Acme",
		ResumeText: "resume", CoverLetter: "letter",
	})
	require.NoError(t, err)
	assert.Equal(t, "app-1", id)
}

func TestApplicationRepo_CreateError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewApplicationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO applications")).WillReturnError(errors.New("conn reset"))

	_, err := repo.CreateApplicationRecord(context.Background(), domain.ApplicationRecord{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn reset")
}

func TestApplicationRepo_MarkSubmitted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewApplicationRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE applications SET status")).
		WithArgs(domain.ApplicationStatusSubmitted, "app-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE applications SET status")).
		WithArgs(domain.ApplicationStatusSubmitted, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkSubmitted(context.Background(), "app-1"))
	assert.ErrorIs(t, repo.MarkSubmitted(context.Background(), "missing"), connectors.ErrNotFound)
}

func TestApplicationRepo_GetUserProfile(t *testing.T) {
	db, mock := newMock(t)
	repo := NewApplicationRepo(db)

	cols := []string{"user_id", "full_name", "email", "phone", "resume_text", "skills", "extra"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_profiles")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "Ann Lee", "ann@example.com", nil, "10 years of Go",
			[]byte(`["go","sql"]`), []byte(`{"github":"annlee"}`)))

	p, err := repo.GetUserProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", p.FullName)
	assert.Empty(t, p.Phone)
	assert.Equal(t, []string{"go", "sql"}, p.Skills)
	assert.Equal(t, "annlee", p.Extra["github"])
}

func TestApplicationRepo_GetUserProfileNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewApplicationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_profiles")).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, connectors.ErrNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(connectors.Classify("store.profile", err)))
}

func TestSessionRepo_WriteBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := []domain.AutomationSession{
		{ID: "s1", UserID: "u1", Status: domain.SessionCompleted, StartedAt: done.Add(-time.Minute), CompletedAt: &done, Duration: time.Minute},
		{ID: "s2", UserID: "u2", Status: domain.SessionFailed, StartedAt: done, CompletedAt: &done, Error: "session cancelled"},
	}

	mock.ExpectExec(`(?s)INSERT INTO automation_sessions .*VALUES\s+\(\$1, .*\$14\),\(\$15, .*\$28\)\s+ON CONFLICT \(id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.WriteBatch(context.Background(), sessions))
}

func TestSessionRepo_WriteBatchEmpty(t *testing.T) {
	db, _ := newMock(t)
	require.NoError(t, NewSessionRepo(db).WriteBatch(context.Background(), nil))
}

func TestSessionRepo_ListRecent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	cols := []string{"id", "user_id", "status", "config", "criteria", "started_at", "completed_at", "duration_ms",
		"total_found", "applications_created", "applications_submitted", "success_rate", "error", "results"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM automation_sessions")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"s1", "u1", "COMPLETED",
			[]byte(`{"max_items":5,"auto_submit":true}`),
			[]byte(`{"keywords":["go"]}`),
			started, done, int64(90000), 2, 1, 1, 0.5, nil,
			[]byte(`[{"job":{"id":"j1","title":"Go"},"steps":[],"application_created":true,"application_submitted":true},{"job":{"id":"j2","title":"Rust"},"steps":[],"application_created":false,"application_submitted":false}]`),
		))

	out, err := repo.ListRecent(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	s := out[0]
	assert.Equal(t, domain.SessionCompleted, s.Status)
	assert.Equal(t, 5, s.Config.MaxItems)
	assert.True(t, s.Config.AutoSubmit)
	assert.Equal(t, []string{"go"}, s.Criteria.Keywords)
	assert.Equal(t, 90*time.Second, s.Duration)
	require.NotNil(t, s.CompletedAt)
	assert.True(t, done.Equal(*s.CompletedAt))
	assert.Equal(t, 2, s.Processed)
	assert.Empty(t, s.Error)
}

func TestUserRepo_GetUserByUsername(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "scopes", "created_at"}).
			AddRow("1", "admin", "$2a$hash", []byte(`{"admin":true}`), created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	u, err := repo.GetUserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Scopes[domain.ScopeAdmin])

	u, err = repo.GetUserByUsername(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)
}
