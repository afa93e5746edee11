package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const automationProvider = "automation"

// GRPCAutomation - адаптер к внешнему исполнителю автоматизации.
// Контракт - google.protobuf.Struct в обе стороны, без сгенерированных стабов.
type GRPCAutomation struct {
	conn    grpc.ClientConnInterface
	method  string
	timeout time.Duration
}

func NewGRPCAutomation(conn grpc.ClientConnInterface, method string) *GRPCAutomation {
	return &GRPCAutomation{conn: conn, method: method, timeout: 2 * time.Minute}
}

func (a *GRPCAutomation) Run(ctx context.Context, req AutomationRequest) (AutomationResult, error) {
	// JSON -> map -> Struct: так же, как поля запроса видит исполнитель
	raw, err := json.Marshal(req)
	if err != nil {
		return AutomationResult{}, fmt.Errorf("failed to marshal automation request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return AutomationResult{}, fmt.Errorf("failed to unmarshal automation request: %w", err)
	}
	in, err := structpb.NewStruct(m)
	if err != nil {
		return AutomationResult{}, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// Свой предел на вызов, даже если у вызывающего дедлайна нет
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, a.method, in, out); err != nil {
		return AutomationResult{}, mapGRPCError(err)
	}

	resBytes, err := json.Marshal(out.AsMap())
	if err != nil {
		return AutomationResult{}, fmt.Errorf("failed to marshal automation result: %w", err)
	}
	var res AutomationResult
	if err := json.Unmarshal(resBytes, &res); err != nil {
		return AutomationResult{}, fmt.Errorf("unexpected automation result shape: %w", err)
	}
	return res, nil
}

func mapGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("automation call failed: %w", err)
	}
	cause := fmt.Errorf("automation call failed: %s: %s", st.Code(), st.Message())
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &AuthError{Provider: automationProvider, Cause: cause}
	case codes.ResourceExhausted:
		return &RateLimitError{Provider: automationProvider, Cause: cause}
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, cause)
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, cause)
	default:
		return cause
	}
}
