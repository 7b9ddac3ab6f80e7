package rag

import (
	"context"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/embedding"
)

// Check is the result of probing one dependency.
type Check struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthReport lists per-dependency checks. Ready is true when all passed.
type HealthReport struct {
	Ready  bool             `json:"ready"`
	Checks map[string]Check `json:"checks"`
}

// Health probes the embedding service, vector index, and completion service concurrently,
// each under its own timeout.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	probes := map[string]func(context.Context) error{
		"completion": o.completer.Ping,
	}
	if o.store != nil {
		probes["vector_index"] = o.store.Ping
	}
	if p, ok := o.embedder.(embedding.Pinger); ok {
		probes["embedding"] = p.Ping
	}

	report := HealthReport{Ready: true, Checks: make(map[string]Check, len(probes))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe func(context.Context) error) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, o.healthTimeout)
			defer cancel()
			start := time.Now()
			err := probe(pctx)
			c := Check{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				c.Status = "unavailable"
				c.Error = apperr.Message(err)
			}
			mu.Lock()
			report.Checks[name] = c
			if err != nil {
				report.Ready = false
			}
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()
	return report
}
