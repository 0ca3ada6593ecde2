package llm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedProvider wraps a Provider with latency and failure metrics.
type InstrumentedProvider struct {
	Next     Provider
	Latency  prometheus.Histogram
	Failures prometheus.Counter
}

func (p *InstrumentedProvider) Evaluate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := p.Next.Evaluate(ctx, prompt)
	if p.Latency != nil {
		p.Latency.Observe(time.Since(start).Seconds())
	}
	if err != nil && p.Failures != nil {
		p.Failures.Inc()
	}
	return out, err
}
