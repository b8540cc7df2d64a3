package health

import (
	"context"
	"time"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a single endpoint
type Checker interface {
	Check(ctx context.Context) Result
}
