package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
	"github.com/xela07ax/applyflow/internal/pipeline"
)

// Runner — то, что выполняет прогон (pipeline.Pipeline)
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) pipeline.RunResult
}

// Archiver принимает терминальные сессии на долговременное хранение
type Archiver interface {
	Archive(s domain.AutomationSession)
}

// Canceller - кооперативная отмена (CancelRegistry)
type Canceller interface {
	Cancel(ctx context.Context, id string) error
	IsCancelled(id string) bool
	Forget(ctx context.Context, id string)
}

// HistoryLoader - источник истории при рестарте
type HistoryLoader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.AutomationSession, error)
}

type StartRequest struct {
	UserID   string                `json:"user_id" validate:"required"`
	Criteria domain.SearchCriteria `json:"criteria"`
	Config   domain.SessionConfig  `json:"config"`
}

type Options struct {
	Defaults  domain.SessionConfig // Подставляются в незаданные поля StartRequest.Config
	Archive   Archiver
	Cancels   Canceller
	Metrics   engine.MetricsSink
	Logger    *zap.Logger
	RunParent context.Context // Родитель прогонов; по умолчанию Background
}

// Manager (AutomationSessionManager) владеет активными сессиями и историей.
// Сессия живет ровно в одном месте: в active до терминального статуса, потом в history.
type Manager struct {
	runner   Runner
	archive  Archiver
	cancels  Canceller
	defaults domain.SessionConfig
	validate *validator.Validate
	metrics  engine.MetricsSink
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.RWMutex
	active  map[string]*domain.AutomationSession
	history map[string]*domain.AutomationSession
}

func NewManager(runner Runner, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cancels == nil {
		opts.Cancels = NewCancelRegistry(nil, opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = engine.NewMetrics(nil)
	}
	if opts.RunParent == nil {
		opts.RunParent = context.Background()
	}
	if opts.Defaults.MaxItems == 0 {
		opts.Defaults.MaxItems = 10
	}
	runCtx, runCancel := context.WithCancel(opts.RunParent)
	return &Manager{
		runner:    runner,
		archive:   opts.Archive,
		cancels:   opts.Cancels,
		defaults:  opts.Defaults,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named("sessions"),
		now:       time.Now,
		newID:     uuid.NewString,
		runCtx:    runCtx,
		runCancel: runCancel,
		active:    make(map[string]*domain.AutomationSession),
		history:   make(map[string]*domain.AutomationSession),
	}
}

// Start проверяет запрос, регистрирует сессию как RUNNING и запускает прогон в фоне.
// Возвращает id сразу, не дожидаясь прогона.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	req.Config = m.withDefaults(req.Config)
	if err := m.validate.StructCtx(ctx, req); err != nil {
		return "", domain.ValidationError("session.start", "%s", describeValidation(err))
	}

	s := &domain.AutomationSession{
		ID:        m.newID(),
		UserID:    req.UserID,
		Status:    domain.SessionCreated,
		Config:    req.Config,
		Criteria:  req.Criteria,
		StartedAt: m.now(),
	}
	if err := s.TransitionTo(domain.SessionRunning); err != nil {
		return "", domain.NewError(domain.KindInternal, "session.start", "cannot start session", err)
	}

	// В active до старта горутины: статус доступен сразу после возврата id
	m.mu.Lock()
	m.active[s.ID] = s
	activeN := len(m.active)
	m.mu.Unlock()

	m.metrics.IncrementCounter("session", map[string]string{"status": string(domain.SessionRunning)})
	m.metrics.SetGauge("active_sessions", float64(activeN), nil)
	m.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.Int("max_items", s.Config.MaxItems),
		zap.Bool("auto_submit", s.Config.AutoSubmit))

	m.wg.Add(1)
	go m.run(s.ID, req)
	return s.ID, nil
}

func (m *Manager) withDefaults(c domain.SessionConfig) domain.SessionConfig {
	if c.MaxItems == 0 {
		c.MaxItems = m.defaults.MaxItems
	}
	if c.RateLimitDelay == 0 {
		c.RateLimitDelay = m.defaults.RateLimitDelay
	}
	return c
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (m *Manager) run(id string, req StartRequest) {
	defer m.wg.Done()
	log := m.logger.With(zap.String("session_id", id))

	var res pipeline.RunResult
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("session run panicked", zap.Any("panic", p))
				res = pipeline.RunResult{Success: false, Error: domain.PublicMessageFor(domain.KindInternal)}
			}
		}()
		res = m.runner.Run(m.runCtx, pipeline.RunRequest{
			SessionID:    id,
			UserID:       req.UserID,
			Criteria:     req.Criteria,
			Config:       req.Config,
			Cancelled:    func() bool { return m.cancels.IsCancelled(id) },
			OnDiscovered: func(total int) { m.onDiscovered(id, total) },
			OnItem:       func(item domain.WorkItemResult) { m.onItem(id, item) },
		})
	}()

	m.finish(id, res)
}

func (m *Manager) onDiscovered(id string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.active[id]; ok {
		s.TotalFound = total
	}
}

// onItem — живой прогресс, пока сессия в active
func (m *Manager) onItem(id string, item domain.WorkItemResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[id]
	if !ok {
		return
	}
	s.Results = append(s.Results, item)
	s.Processed++
	if item.ApplicationCreated {
		s.Created++
	}
	if item.ApplicationSubmitted {
		s.Submitted++
	}
	s.SuccessRate = float64(s.Created) / float64(max(s.TotalFound, 1))
}

// finish переводит сессию в терминальный статус и переносит в историю ровно один раз
func (m *Manager) finish(id string, res pipeline.RunResult) {
	now := m.now()

	m.mu.Lock()
	s, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Error("finished session is not active", zap.String("session_id", id))
		return
	}
	s.TotalFound = res.TotalFound
	s.Created = res.Created
	s.Submitted = res.Submitted
	s.SuccessRate = res.SuccessRate
	s.Processed = len(res.Results)
	s.Results = res.Results
	s.Error = res.Error
	s.CompletedAt = &now
	s.Duration = now.Sub(s.StartedAt)

	next := domain.SessionCompleted
	if !res.Success {
		next = domain.SessionFailed
	}
	if err := s.TransitionTo(next); err != nil {
		m.logger.Error("illegal session transition", zap.String("session_id", id), zap.Error(err))
	}
	delete(m.active, id)
	m.history[id] = s
	snapshot := s.Clone()
	activeN := len(m.active)
	m.mu.Unlock()

	m.cancels.Forget(context.Background(), id)
	if m.archive != nil {
		m.archive.Archive(snapshot)
	}

	m.metrics.IncrementCounter("session", map[string]string{"status": string(snapshot.Status)})
	m.metrics.SetGauge("active_sessions", float64(activeN), nil)
	m.logger.Info("session finished",
		zap.String("session_id", id),
		zap.String("status", string(snapshot.Status)),
		zap.Int("total_found", snapshot.TotalFound),
		zap.Int("created", snapshot.Created),
		zap.Int("submitted", snapshot.Submitted),
		zap.Duration("duration", snapshot.Duration))
}

// GetStatus ищет сначала среди активных, потом в истории.
// Неизвестный id - статус NOT_FOUND, а не ошибка.
func (m *Manager) GetStatus(id string) domain.AutomationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.active[id]; ok {
		return s.Clone()
	}
	if s, ok := m.history[id]; ok {
		return s.Clone()
	}
	return domain.AutomationSession{ID: id, Status: domain.SessionNotFound}
}

// GetHistory - завершенные сессии пользователя, свежие первыми. Пустой userID - все пользователи.
func (m *Manager) GetHistory(userID string, limit int) []domain.AutomationSession {
	m.mu.RLock()
	out := make([]domain.AutomationSession, 0)
	for _, s := range m.history {
		if userID == "" || s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return completedAt(out[i]).After(completedAt(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListActive — идущие сессии пользователя (для консоли)
func (m *Manager) ListActive(userID string) []domain.AutomationSession {
	m.mu.RLock()
	out := make([]domain.AutomationSession, 0, len(m.active))
	for _, s := range m.active {
		if userID == "" || s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func completedAt(s domain.AutomationSession) time.Time {
	if s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.StartedAt
}

// Cancel просит активную сессию остановиться после текущего элемента
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	_, active := m.active[id]
	_, done := m.history[id]
	m.mu.RUnlock()

	switch {
	case active:
		if err := m.cancels.Cancel(ctx, id); err != nil {
			return domain.NewError(domain.KindInternal, "session.cancel", "cancel not recorded", err)
		}
		m.logger.Info("session cancel requested", zap.String("session_id", id))
		return nil
	case done:
		return domain.NewError(domain.KindValidation, "session.cancel", "session already finished", domain.ErrAlreadyTerminal)
	default:
		return domain.NewError(domain.KindNotFound, "session.cancel", "session not found", nil)
	}
}

// OwnerOf - владелец сессии, пустая строка если сессии нет
func (m *Manager) OwnerOf(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.active[id]; ok {
		return s.UserID
	}
	if s, ok := m.history[id]; ok {
		return s.UserID
	}
	return ""
}

// RestoreHistory подтягивает историю из архива после рестарта.
// Нетерминальные и уже известные сессии пропускаются.
func (m *Manager) RestoreHistory(ctx context.Context, loader HistoryLoader, limit int) (int, error) {
	sessions, err := loader.ListRecent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("restore history: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range sessions {
		s := sessions[i]
		if !s.Status.Terminal() {
			continue
		}
		if _, ok := m.active[s.ID]; ok {
			continue
		}
		if _, ok := m.history[s.ID]; ok {
			continue
		}
		m.history[s.ID] = &s
		n++
	}
	m.logger.Info("history restored", zap.Int("sessions", n))
	return n, nil
}

// Wait ждет завершения всех прогонов или истечения ctx
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown дает прогонам доработать до дедлайна ctx, затем отменяет оставшиеся
// и ждет, пока они зафиксируют терминальный статус.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.Wait(ctx)
	if err != nil {
		m.logger.Warn("sessions still running at shutdown deadline, cancelling")
		m.runCancel()
		m.wg.Wait()
		return err
	}
	m.runCancel()
	return nil
}
