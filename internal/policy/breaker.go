package policy

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state for one tool.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the rolling failure window.
type BreakerConfig struct {
	Window           time.Duration `yaml:"window"`
	Buckets          int           `yaml:"buckets"`
	MinRequests      int           `yaml:"min_requests"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:           5 * time.Minute,
		Buckets:          10,
		MinRequests:      50,
		FailureThreshold: 0.7,
		Cooldown:         time.Minute,
	}
}

type bucket struct {
	success  int
	failure  int
	openedAt time.Time
}

// Breaker is a per-tool failure-rate tripwire with a rolling bucketed
// window. Once the failure rate over the window crosses the threshold (and
// enough requests have been seen), the breaker opens; after the cooldown a
// single probe is allowed, and its outcome closes or re-opens the circuit.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	bucketLen time.Duration
	buckets   []bucket
	state     BreakerState
	openSince time.Time
	now       func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Buckets <= 0 {
		cfg.Buckets = def.Buckets
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	bucketLen := cfg.Window / time.Duration(cfg.Buckets)
	if bucketLen <= 0 {
		// Window shorter than one nanosecond per bucket.
		cfg.Buckets = 1
		bucketLen = cfg.Window
	}
	return &Breaker{
		cfg:       cfg,
		bucketLen: bucketLen,
		buckets:   make([]bucket, cfg.Buckets),
		state:     BreakerClosed,
		now:       time.Now,
	}
}

func (b *Breaker) index(now time.Time) int {
	return int(now.UnixNano()/int64(b.bucketLen)) % b.cfg.Buckets
}

func (b *Breaker) rotate(now time.Time) {
	idx := b.index(now)
	if now.Sub(b.buckets[idx].openedAt) >= b.bucketLen {
		b.buckets[idx] = bucket{openedAt: now}
	}
}

// Allow reports whether a request may proceed. In the open state it returns
// false until the cooldown elapses, then lets one probe through half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rotate(now)

	if b.state == BreakerOpen {
		if now.Sub(b.openSince) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// Record feeds the outcome of a request into the window and updates state.
func (b *Breaker) Record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rotate(now)
	idx := b.index(now)
	if ok {
		b.buckets[idx].success++
	} else {
		b.buckets[idx].failure++
	}

	if b.state == BreakerHalfOpen {
		if ok {
			b.state = BreakerClosed
			for i := range b.buckets {
				b.buckets[i] = bucket{openedAt: now}
			}
		} else {
			b.state = BreakerOpen
			b.openSince = now
		}
		return
	}

	success, failure := 0, 0
	for _, bk := range b.buckets {
		success += bk.success
		failure += bk.failure
	}
	total := success + failure
	if b.state == BreakerClosed && total >= b.cfg.MinRequests {
		if float64(failure)/float64(total) >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openSince = now
		}
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet lazily manages one breaker per tool.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (s *BreakerSet) breaker(tool string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[tool]
	if !ok {
		b = NewBreaker(s.cfg)
		s.breakers[tool] = b
	}
	return b
}

func (s *BreakerSet) Allow(tool string) bool {
	return s.breaker(tool).Allow()
}

func (s *BreakerSet) Record(tool string, ok bool) {
	s.breaker(tool).Record(ok)
}

func (s *BreakerSet) State(tool string) BreakerState {
	return s.breaker(tool).State()
}
