package validators

import (
	"fmt"
	"sync"

	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"golang.org/x/time/rate"
)

// LimitersParamKey is the session parameter holding the per-method limiters.
const LimitersParamKey = "throttling_limiters"

// Throttling limits the request rate per session and method. Budgets come
// from the configuration; limiters live in the session parameters so they
// are dropped together with the session.
type Throttling struct {
	cfg config.IConfig
}

// NewThrottling creates a new throttling validator.
func NewThrottling(cfg config.IConfig) *Throttling {
	return &Throttling{cfg: cfg}
}

// getLimiter returns the limiter for the session and method, creating it
// from the configured budget on first use.
func (t *Throttling) getLimiter(session shared.ISession, method string) (*rate.Limiter, error) {
	sessionParams := session.GetParams()

	limitersValue, _ := sessionParams.LoadOrStore(LimitersParamKey, &sync.Map{})
	limiters, ok := limitersValue.(*sync.Map)
	if !ok {
		return nil, fmt.Errorf("unexpected limiter store type %T", limitersValue)
	}

	if limiterValue, ok := limiters.Load(method); ok {
		if limiter, ok := limiterValue.(*rate.Limiter); ok {
			return limiter, nil
		}
	}

	budget, err := t.cfg.RateLimit(method)
	if err != nil {
		return nil, err
	}
	burst := budget.Burst
	if burst <= 0 {
		burst = budget.PerMinute
	}
	limiter := rate.NewLimiter(rate.Limit(float64(budget.PerMinute)/60.0), burst)
	actual, _ := limiters.LoadOrStore(method, limiter)
	return actual.(*rate.Limiter), nil
}

// Validate implements the MessageValidator interface. Responses and
// notifications are never throttled.
func (t *Throttling) Validate(msg *shared.Message) error {
	if msg.Session == nil || !msg.IsRequest() {
		return nil
	}

	limiter, err := t.getLimiter(msg.Session, *msg.Method)
	if err != nil {
		return shared.NewJSONRPCError(err)
	}
	if !limiter.Allow() {
		return shared.NewRetryableError(shared.JSONRPCErrorRateLimited, 1,
			"rate limit exceeded for method %s", *msg.Method)
	}
	return nil
}
