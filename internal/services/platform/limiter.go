package platform

import (
	"math"
	"sync"
	"time"

	"github.com/ternarybob/gramflow/internal/common"
	"golang.org/x/time/rate"
)

// BucketState is a point-in-time view of one rate-limit bucket
type BucketState struct {
	Capacity      int       `json:"capacity"`
	Tokens        float64   `json:"tokens"`
	CooldownUntil time.Time `json:"cooldownUntil,omitempty"`
}

// bucket is the token bucket for one (account, call kind) pair
type bucket struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	cooldownUntil time.Time
}

type bucketKey struct {
	account string
	kind    CallKind
}

// Limiter holds the rate-limit buckets shared by every client touching an account.
// Callers never block: an empty bucket fails fast with the time until the next token.
type Limiter struct {
	mu              sync.Mutex
	buckets         map[bucketKey]*bucket
	limits          func(kind CallKind) common.RateLimitConfig
	defaultCooldown time.Duration
	now             func() time.Time
}

// LimiterOption configures the Limiter
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the time source
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a bucket registry sized from the platform rate_limits configuration
func NewLimiter(config *common.PlatformConfig, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		buckets: make(map[bucketKey]*bucket),
		limits: func(kind CallKind) common.RateLimitConfig {
			return config.RateLimitFor(string(kind))
		},
		defaultCooldown: common.ParseDuration(config.DefaultCooldown, 5*time.Minute),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) bucketFor(account string, kind CallKind) *bucket {
	key := bucketKey{account: account, kind: kind}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		cfg := l.limits(kind)
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.PerMinute/60.0), burst)
		// Start full at the limiter's own clock origin
		limiter.SetBurstAt(l.now(), burst)
		b = &bucket{limiter: limiter}
		l.buckets[key] = b
	}
	return b
}

// Acquire reserves one token for (account, kind). When the bucket is empty or cooling
// down it returns a RateLimited error carrying the wait until a token is available.
// A reserved token is only spent by a successful call; callers Refund it otherwise.
func (l *Limiter) Acquire(account string, kind CallKind) error {
	b := l.bucketFor(account, kind)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Before(b.cooldownUntil) {
		return rateLimited(string(kind), b.cooldownUntil.Sub(now), "local cooldown after platform rate limit")
	}

	tokens := b.limiter.TokensAt(now)
	if tokens < 1 {
		return rateLimited(string(kind), timeUntilToken(b.limiter, tokens), "local rate limit bucket empty")
	}

	b.limiter.AllowN(now, 1)
	return nil
}

// Penalize empties the bucket and starts a cooldown after the platform itself rate limited us.
// A non-positive retryAfter uses the configured default cooldown.
func (l *Limiter) Penalize(account string, kind CallKind, retryAfter time.Duration) time.Duration {
	if retryAfter <= 0 {
		retryAfter = l.defaultCooldown
	}
	b := l.bucketFor(account, kind)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.limiter = withTokens(b.limiter, now, 0)

	if until := now.Add(retryAfter); until.After(b.cooldownUntil) {
		b.cooldownUntil = until
	}
	return b.cooldownUntil.Sub(now)
}

// Refund returns a token reserved by Acquire for a call that did not succeed.
// The bucket never exceeds its capacity.
func (l *Limiter) Refund(account string, kind CallKind) {
	b := l.bucketFor(account, kind)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.limiter = withTokens(b.limiter, now, b.limiter.TokensAt(now)+1)
}

// withTokens returns a limiter of the same rate and burst holding tokens at now.
// The replacement is drained at an earlier instant and refills up to tokens by now.
func withTokens(limiter *rate.Limiter, now time.Time, tokens float64) *rate.Limiter {
	burst := limiter.Burst()
	tokens = math.Max(0, math.Min(tokens, float64(burst)))

	next := rate.NewLimiter(limiter.Limit(), burst)
	perSecond := float64(limiter.Limit())
	if perSecond <= 0 {
		next.SetBurstAt(now, burst)
		next.AllowN(now, burst-int(tokens))
		return next
	}

	// Round the offset up so whole tokens never read back as a fraction below them
	at := now.Add(-time.Duration(math.Ceil(tokens / perSecond * float64(time.Second))))
	next.SetBurstAt(at, burst)
	next.AllowN(at, burst)
	return next
}

// State reports the bucket for (account, kind)
func (l *Limiter) State(account string, kind CallKind) BucketState {
	b := l.bucketFor(account, kind)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.limiter.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	return BucketState{
		Capacity:      b.limiter.Burst(),
		Tokens:        tokens,
		CooldownUntil: b.cooldownUntil,
	}
}

func timeUntilToken(limiter *rate.Limiter, tokens float64) time.Duration {
	perSecond := float64(limiter.Limit())
	if perSecond <= 0 {
		return time.Hour
	}
	seconds := (1 - tokens) / perSecond
	wait := time.Duration(math.Ceil(seconds * float64(time.Second)))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}
