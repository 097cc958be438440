package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"xvm/internal/trace"
)

// traceSession owns the tracer of one command. In ring mode the recorded
// events are only written out when the run fails.
type traceSession struct {
	tracer    trace.Tracer
	heartbeat *trace.Heartbeat
	ring      *trace.RingTracer
	output    string
	errOut    io.Writer
}

// setupTracing initializes the tracer from flags and the manifest and
// attaches it to the command context.
func setupTracing(cmd *cobra.Command, manifest *projectManifest) (*traceSession, error) {
	flags := cmd.Root().PersistentFlags()

	traceOutput, err := flags.GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := flags.GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := flags.GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := flags.GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeatInterval, err := flags.GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	if manifest != nil {
		tc := manifest.Config.Trace
		if !flags.Changed("trace") && tc.Output != "" {
			traceOutput = tc.Output
		}
		if !flags.Changed("trace-level") && tc.Level != "" {
			levelStr = tc.Level
		}
		if !flags.Changed("trace-mode") && tc.Mode != "" {
			modeStr = tc.Mode
		}
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	if level == trace.LevelOff && traceOutput == "" {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return &traceSession{tracer: trace.Nop}, nil
	}
	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: traceOutput,
		RingSize:   ringSize,
		Heartbeat:  heartbeatInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	heartbeat := trace.StartHeartbeat(tracer, heartbeatInterval)
	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(trace.WithHeartbeat(ctx, heartbeat))

	session := &traceSession{
		tracer:    tracer,
		heartbeat: heartbeat,
		output:    traceOutput,
		errOut:    cmd.ErrOrStderr(),
	}
	if mode == trace.ModeRing {
		session.ring = trace.RingOf(tracer)
	}
	return session, nil
}

// dumpRing writes the flight recorder after a failed run: to the trace
// output file when one was named, to stderr otherwise.
func (s *traceSession) dumpRing() {
	if s.ring == nil {
		return
	}
	w, format := s.errOut, trace.FormatText
	if s.output != "" && s.output != "-" {
		f, err := os.Create(s.output)
		if err != nil {
			fmt.Fprintf(s.errOut, "trace: %v\n", err)
			return
		}
		defer f.Close()
		w, format = f, trace.DetectFormat(s.output)
	}
	if err := s.ring.Dump(w, format); err != nil {
		fmt.Fprintf(s.errOut, "trace: dump error: %v\n", err)
	}
}

func (s *traceSession) close() {
	s.heartbeat.Stop()
	if err := s.tracer.Flush(); err != nil {
		fmt.Fprintf(s.errOut, "trace: flush error: %v\n", err)
	}
	if err := s.tracer.Close(); err != nil {
		fmt.Fprintf(s.errOut, "trace: close error: %v\n", err)
	}
}
