package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/applyflow/internal/domain"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]domain.AutomationSession
	err     error
}

func (w *fakeWriter) WriteBatch(_ context.Context, s []domain.AutomationSession) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]domain.AutomationSession(nil), s...))
	return w.err
}

func (w *fakeWriter) count() (batches, sessions int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.batches {
		sessions += len(b)
	}
	return len(w.batches), sessions
}

func TestArchive_FlushesOnBatchSize(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchive(w, ArchiveConfig{BatchSize: 3, FlushInterval: time.Hour}, nil, nil)
	a.Start()
	defer a.Stop()

	for i := 0; i < 3; i++ {
		a.Archive(domain.AutomationSession{ID: string(rune('a' + i))})
	}
	require.Eventually(t, func() bool {
		b, s := w.count()
		return b == 1 && s == 3
	}, time.Second, 5*time.Millisecond)
}

func TestArchive_FlushesOnTicker(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchive(w, ArchiveConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, nil, nil)
	a.Start()
	defer a.Stop()

	a.Archive(domain.AutomationSession{ID: "s1"})
	require.Eventually(t, func() bool {
		_, s := w.count()
		return s == 1
	}, time.Second, 5*time.Millisecond)
}

func TestArchive_StopDrainsBuffer(t *testing.T) {
	w := &fakeWriter{}
	fill := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_archive_fill"})
	a := NewArchive(w, ArchiveConfig{BatchSize: 100, FlushInterval: time.Hour}, fill, nil)
	a.Start()

	for i := 0; i < 10; i++ {
		a.Archive(domain.AutomationSession{ID: "s"})
	}
	a.Stop()

	_, s := w.count()
	assert.Equal(t, 10, s)

	// После Stop запись молча отбрасывается, повторный Stop безопасен
	a.Archive(domain.AutomationSession{ID: "late"})
	a.Stop()
	_, s = w.count()
	assert.Equal(t, 10, s)
}

func TestArchive_OverflowDoesNotBlock(t *testing.T) {
	w := &fakeWriter{}
	// Воркер не запущен: буфер на 2 элемента заполнится
	a := NewArchive(w, ArchiveConfig{BufferSize: 2}, nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			a.Archive(domain.AutomationSession{ID: "s"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Archive blocked on full buffer")
	}
	assert.Len(t, a.ch, 2)
}

func TestArchive_WriteErrorIsLogged(t *testing.T) {
	w := &fakeWriter{err: errors.New("db down")}
	a := NewArchive(w, ArchiveConfig{BatchSize: 1}, nil, nil)
	a.Start()
	a.Archive(domain.AutomationSession{ID: "s1"})
	a.Archive(domain.AutomationSession{ID: "s2"})
	a.Stop()

	b, _ := w.count()
	assert.Equal(t, 2, b)
}
