package connector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AI-static/Aether/internal/platform"
)

// Pacer spaces page navigations per platform. Target sites throttle bursty
// automation, so each platform gets a token bucket that refills at its
// configured minimum navigation delay.
type Pacer struct {
	fallback time.Duration
	delays   map[platform.Platform]time.Duration

	mu       sync.Mutex
	limiters map[platform.Platform]*rate.Limiter
}

// NewPacer builds a Pacer from per-platform minimum delays. Platforms absent
// from delays use fallback; a zero or negative delay disables pacing for that
// platform.
func NewPacer(delays map[platform.Platform]time.Duration, fallback time.Duration) *Pacer {
	p := &Pacer{
		fallback: fallback,
		delays:   make(map[platform.Platform]time.Duration, len(delays)),
		limiters: make(map[platform.Platform]*rate.Limiter),
	}
	for pf, d := range delays {
		p.delays[pf] = d
	}
	return p
}

// Wait blocks until the platform's next navigation slot opens or ctx ends.
func (p *Pacer) Wait(ctx context.Context, pf platform.Platform) error {
	return p.limiterFor(pf).Wait(ctx)
}

func (p *Pacer) limiterFor(pf platform.Platform) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lim, ok := p.limiters[pf]; ok {
		return lim
	}
	delay, ok := p.delays[pf]
	if !ok {
		delay = p.fallback
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	lim := rate.NewLimiter(limit, 1)
	p.limiters[pf] = lim
	return lim
}
