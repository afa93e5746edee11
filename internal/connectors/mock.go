package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/applyflow/internal/domain"
)

// Демо-коллабораторы: режим demo поднимает сервис без внешних систем.

// StaticJobSource отдает вакансии из фиксированного каталога
type StaticJobSource struct {
	Jobs []domain.JobPosting
}

func NewStaticJobSource() *StaticJobSource {
	return &StaticJobSource{Jobs: []domain.JobPosting{
		{ID: "job-1001", Title: "Backend Engineer (Go)", Company: "Northwind", Location: "Remote", URL: "https://jobs.example.com/1001", Description: "Go, PostgreSQL, Kubernetes"},
		{ID: "job-1002", Title: "Site Reliability Engineer", Company: "Contoso", Location: "Berlin", URL: "https://jobs.example.com/1002", Description: "Prometheus, Go, on-call"},
		{ID: "job-1003", Title: "Platform Engineer", Company: "Fabrikam", Location: "Remote", URL: "https://jobs.example.com/1003", Description: "gRPC, Redis, Terraform"},
		{ID: "job-1004", Title: "Data Engineer", Company: "Tailspin", Location: "London", URL: "https://jobs.example.com/1004", Description: "Kafka, Spark, Python"},
		{ID: "job-1005", Title: "Senior Go Developer", Company: "Wingtip", Location: "Remote", URL: "https://jobs.example.com/1005", Description: "Go, microservices, chi"},
	}}
}

func (s *StaticJobSource) Search(ctx context.Context, c domain.SearchCriteria, limit int) ([]domain.JobPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.JobPosting
	for _, j := range s.Jobs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if c.Remote && !strings.EqualFold(j.Location, "remote") {
			continue
		}
		if c.Location != "" && !c.Remote && !strings.EqualFold(j.Location, c.Location) {
			continue
		}
		if !matchesKeywords(j, c.Keywords) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func matchesKeywords(j domain.JobPosting, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	hay := strings.ToLower(j.Title + " " + j.Description)
	for _, k := range keywords {
		if strings.Contains(hay, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// EchoCompletion детерминированно "генерирует" текст из промпта
type EchoCompletion struct{}

func (EchoCompletion) Complete(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s]\n%s", firstLine(system), user), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// MemoryStore — хранилище заявок и профилей в памяти
type MemoryStore struct {
	mu           sync.RWMutex
	applications map[string]domain.ApplicationRecord
	profiles     map[string]domain.UserProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: make(map[string]domain.ApplicationRecord),
		profiles:     make(map[string]domain.UserProfile),
	}
}

func (s *MemoryStore) PutProfile(p domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *MemoryStore) GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	// В демо у каждого пользователя есть базовый профиль
	return domain.UserProfile{
		UserID:     userID,
		FullName:   "Demo Candidate",
		Email:      userID + "@example.com",
		ResumeText: "Software engineer with 6 years of Go experience.",
		Skills:     []string{"go", "postgresql", "redis"},
	}, nil
}

func (s *MemoryStore) CreateApplicationRecord(ctx context.Context, rec domain.ApplicationRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) MarkSubmitted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.applications[id]
	if !ok {
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	rec.Status = domain.ApplicationStatusSubmitted
	s.applications[id] = rec
	return nil
}

func (s *MemoryStore) Applications() []domain.ApplicationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ApplicationRecord, 0, len(s.applications))
	for _, a := range s.applications {
		out = append(out, a)
	}
	return out
}

// MockAutomation имитирует подачу с задержкой 50-300мс
type MockAutomation struct {
	MinLatency time.Duration
	Jitter     time.Duration
}

func NewMockAutomation() *MockAutomation {
	return &MockAutomation{MinLatency: 50 * time.Millisecond, Jitter: 250 * time.Millisecond}
}

func (m *MockAutomation) Run(ctx context.Context, req AutomationRequest) (AutomationResult, error) {
	latency := m.MinLatency
	if m.Jitter > 0 {
		latency += time.Duration(rand.Int64N(int64(m.Jitter)))
	}
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return AutomationResult{}, ctx.Err()
	}

	if req.Job.URL == "" {
		return AutomationResult{Success: false, Error: "job has no application url"}, nil
	}
	return AutomationResult{
		Success:       true,
		StepsExecuted: []string{"open_form", "fill_profile", "attach_documents", "submit"},
		Artifacts:     map[string]any{"form_url": req.Job.URL},
		Confirmation:  "CONF-" + strings.ToUpper(uuid.NewString()[:8]),
	}, nil
}
