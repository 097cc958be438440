package trace

import "context"

type ctxKey struct{}

type heartbeatKey struct{}

// FromContext returns the Tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx == nil {
		return Nop
	}
	if t, ok := ctx.Value(ctxKey{}).(Tracer); ok {
		return t
	}
	return Nop
}

// WithTracer attaches t to ctx. A nil t attaches Nop.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, ctxKey{}, t)
}

// WithHeartbeat attaches a running heartbeat so that the code which later
// builds the runtime can install its probe.
func WithHeartbeat(ctx context.Context, h *Heartbeat) context.Context {
	return context.WithValue(ctx, heartbeatKey{}, h)
}

// HeartbeatFrom returns the heartbeat attached to ctx, or nil.
func HeartbeatFrom(ctx context.Context) *Heartbeat {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(heartbeatKey{}).(*Heartbeat)
	return h
}
