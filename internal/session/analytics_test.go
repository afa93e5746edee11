package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/applyflow/internal/domain"
)

func TestFailureBucket(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{domain.PublicMessageFor(domain.KindTransformation), BucketTransformation},
		{domain.PublicMessageFor(domain.KindValidation), BucketValidation},
		{domain.PublicMessageFor(domain.KindTimeout), BucketTimeout},
		{domain.PublicMessageFor(domain.KindCircuitOpen), BucketAvailability},
		{domain.PublicMessageFor(domain.KindRateLimit), BucketRateLimit},
		{"agent cover_letter_generator not available", BucketAvailability},
		{domain.PublicMessageFor(domain.KindAgentExecution), BucketOther},
		{"", BucketOther},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FailureBucket(c.msg), c.msg)
	}
}

func TestManager_StepPerformance(t *testing.T) {
	m := NewManager(staticRunner(twoItems()), Options{})
	for i := 0; i < 2; i++ {
		_, err := m.Start(context.Background(), StartRequest{UserID: "u1"})
		require.NoError(t, err)
	}
	_, err := m.Start(context.Background(), StartRequest{UserID: "u2"})
	require.NoError(t, err)
	waitAll(t, m)

	perf := m.GetStepPerformanceMetrics("u1")
	require.Len(t, perf, 3)
	assert.Equal(t, []string{domain.StepOptimize, domain.StepGenerate, domain.StepPersist},
		[]string{perf[0].StepID, perf[1].StepID, perf[2].StepID})

	optimize, generate, persist := perf[0], perf[1], perf[2]
	assert.Equal(t, 4, optimize.Attempts)
	assert.InDelta(t, 1.0, optimize.SuccessRate, 1e-9)
	assert.Equal(t, 10*time.Millisecond, optimize.AvgDuration)

	assert.Equal(t, 4, generate.Attempts)
	assert.Equal(t, 2, generate.Succeeded)
	assert.Equal(t, 2, generate.Failed)
	assert.InDelta(t, 0.5, generate.SuccessRate, 1e-9)
	assert.Equal(t, 30*time.Millisecond, generate.AvgDuration)

	// SKIPPED не считается попыткой
	assert.Equal(t, 2, persist.Attempts)
	assert.Equal(t, 2, persist.Skipped)
	assert.InDelta(t, 1.0, persist.SuccessRate, 1e-9)

	assert.Empty(t, m.GetStepPerformanceMetrics("nobody"))
}

func TestManager_HandoffAnalytics(t *testing.T) {
	m := NewManager(staticRunner(twoItems()), Options{})
	_, err := m.Start(context.Background(), StartRequest{UserID: "u1"})
	require.NoError(t, err)
	waitAll(t, m)

	a := m.GetHandoffAnalytics("u1")
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, 1, a.Sessions)
	assert.Equal(t, 5, a.Total)
	assert.Equal(t, 4, a.Succeeded)
	assert.InDelta(t, 0.8, a.SuccessRate, 1e-9)
	assert.Equal(t, 22*time.Millisecond, a.AvgDuration)

	pair := a.ByPair["optimize->generate"]
	assert.Equal(t, 2, pair.Total)
	assert.Equal(t, 1, pair.Succeeded)
	assert.InDelta(t, 0.5, pair.SuccessRate, 1e-9)
	assert.Equal(t, 30*time.Millisecond, pair.AvgDuration)

	assert.Equal(t, map[string]int{BucketTimeout: 1}, a.FailureBuckets)

	empty := m.GetHandoffAnalytics("nobody")
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.SuccessRate)
	assert.Empty(t, empty.ByPair)
}
