package session

/*
Archive — асинхронная запись завершенных сессий в долговременное хранилище.

- Горячий путь (завершение прогона) не ждет базу: сессия уходит в буферизированный канал.
- Пишем пачками: по достижении BatchSize или по тикеру.
- Stop закрывает вход и дожидается, пока воркер вычитает канал и сделает финальный flush.
- Переполнение буфера не блокирует: сессия остается в памяти (история), теряется только копия в базе.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/domain"
)

// SessionWriter — куда физически пишем архив
type SessionWriter interface {
	WriteBatch(ctx context.Context, sessions []domain.AutomationSession) error
}

type ArchiveConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func (c *ArchiveConfig) withDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

type Archive struct {
	cfg    ArchiveConfig
	ch     chan domain.AutomationSession
	repo   SessionWriter
	fill   prometheus.Gauge
	logger *zap.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
	// sendMu: Archive держит RLock на время отправки, Stop берет Lock перед close(ch)
	sendMu sync.RWMutex
}

// NewArchive создает архиватор. fill может быть nil.
func NewArchive(repo SessionWriter, cfg ArchiveConfig, fill prometheus.Gauge, logger *zap.Logger) *Archive {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		cfg:    cfg,
		ch:     make(chan domain.AutomationSession, cfg.BufferSize),
		repo:   repo,
		fill:   fill,
		logger: logger.With(zap.String("mod", "session_archive")),
	}
}

func (a *Archive) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Stop запирает вход и ждет, пока воркер все допишет
func (a *Archive) Stop() {
	a.sendMu.Lock()
	if a.closed.Swap(true) {
		a.sendMu.Unlock()
		return
	}
	a.logger.Info("stopping archive: closing channel and flushing buffer...")
	close(a.ch)
	a.sendMu.Unlock()

	a.wg.Wait()
	a.logger.Info("archive stopped gracefully")
}

// Archive ставит сессию в очередь на запись. Не блокирует.
func (a *Archive) Archive(s domain.AutomationSession) {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()

	if a.closed.Load() {
		a.logger.Warn("session dropped from archive: archive is stopping", zap.String("session_id", s.ID))
		return
	}

	select {
	case a.ch <- s:
		a.setFill()
	default:
		a.logger.Error("archive_buffer_overflow",
			zap.String("session_id", s.ID),
			zap.String("user_id", s.UserID))
	}
}

func (a *Archive) setFill() {
	if a.fill != nil {
		a.fill.Set(float64(len(a.ch)))
	}
}

func (a *Archive) worker() {
	defer a.wg.Done()

	batch := make([]domain.AutomationSession, 0, a.cfg.BatchSize)
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: к моменту финального flush контекст приложения уже отменен
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
		defer cancel()
		if err := a.repo.WriteBatch(ctx, batch); err != nil {
			a.logger.Error("archive flush failed", zap.Int("sessions", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		a.setFill()
	}

	for {
		select {
		case s, ok := <-a.ch:
			if !ok {
				flush()
				a.logger.Info("archive worker finished")
				return
			}
			batch = append(batch, s)
			if len(batch) >= a.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
