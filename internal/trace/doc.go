// Package trace records what the xvm runtime is doing while it runs.
//
// Services, fibers and individual ops emit events through a Tracer so that a
// stuck or misbehaving program can be diagnosed after the fact.
//
// # Usage
//
//	xvm run --trace=- --trace-level=service main.xasm
//
// # Tracers
//
//   - Nop: zero-overhead tracer used when tracing is disabled
//   - StreamTracer: writes each event immediately (file or stderr)
//   - RingTracer: keeps the last N events for crash dumps
//   - MultiTracer: fans events out to several tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only uncaught faults (crash path)
//   - LevelService: runtime and service lifecycle, message dispatch
//   - LevelDetail: adds fiber spawn/park/wake/complete
//   - LevelDebug: adds every executed op
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeService, "service:main", parentID)
//	defer span.End("")
package trace
