package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"typed", ValidationError("op", "bad %s", "input"), KindValidation},
		{"wrapped", fmt.Errorf("outer: %w", AgentExecutionError("op", nil, "boom")), KindAgentExecution},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"unknown", errors.New("plain"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKind_Policies(t *testing.T) {
	assert.True(t, KindAgentExecution.BreakerRelevant())
	assert.False(t, KindValidation.BreakerRelevant())
	assert.False(t, KindCircuitOpen.BreakerRelevant())

	assert.True(t, KindAgentExecution.Retryable())
	assert.True(t, KindRateLimit.Retryable())
	assert.False(t, KindCircuitOpen.Retryable())
	assert.False(t, KindValidation.Retryable())
	assert.False(t, KindAuth.Retryable())
}

func TestError_IsByKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", TimeoutError("health", context.DeadlineExceeded))
	assert.ErrorIs(t, err, &Error{Kind: KindTimeout})
	assert.NotErrorIs(t, err, &Error{Kind: KindValidation})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublicMessage_HidesDetails(t *testing.T) {
	err := AgentExecutionError("agent.x", errors.New("pq: password authentication failed for user admin"), "db down")
	msg := PublicMessage(err)
	assert.Equal(t, "agent execution failed", msg)
	assert.NotContains(t, msg, "password")
}

func TestAgentResult_Err(t *testing.T) {
	assert.NoError(t, AgentResult{Success: true}.Err())

	err := FailedResult("resume_optimizer", "", "boom").Err()
	require.Error(t, err)
	assert.Equal(t, KindAgentExecution, KindOf(err))

	err = FailedResult("resume_optimizer", KindCircuitOpen, "unavailable").Err()
	assert.Equal(t, KindCircuitOpen, KindOf(err))
}

func TestSession_StateMachine(t *testing.T) {
	s := &AutomationSession{Status: SessionCreated}

	assert.ErrorIs(t, s.TransitionTo(SessionCompleted), ErrInvalidTransition)
	require.NoError(t, s.TransitionTo(SessionRunning))
	require.NoError(t, s.TransitionTo(SessionFailed))

	assert.ErrorIs(t, s.TransitionTo(SessionRunning), ErrAlreadyTerminal)
	assert.ErrorIs(t, s.TransitionTo(SessionCompleted), ErrAlreadyTerminal)
	assert.Equal(t, SessionFailed, s.Status)
}

func TestSession_CloneIsIndependent(t *testing.T) {
	now := time.Now()
	s := &AutomationSession{
		ID:          "s1",
		CompletedAt: &now,
		Results:     []WorkItemResult{{Job: JobPosting{ID: "a"}}},
	}
	c := s.Clone()
	c.Results = append(c.Results, WorkItemResult{Job: JobPosting{ID: "b"}})
	*c.CompletedAt = now.Add(time.Hour)

	assert.Len(t, s.Results, 1)
	assert.Equal(t, now, *s.CompletedAt)
}

func TestWorkItemResult_Step(t *testing.T) {
	r := WorkItemResult{Steps: []StepOutcome{
		{StepID: StepOptimize, Status: StepSucceeded},
		{StepID: StepGenerate, Status: StepFailed},
	}}
	st, ok := r.Step(StepGenerate)
	require.True(t, ok)
	assert.Equal(t, StepFailed, st.Status)

	_, ok = r.Step(StepSubmit)
	assert.False(t, ok)
}
