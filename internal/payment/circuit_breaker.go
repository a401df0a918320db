package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests flow
	BreakerOpen                         // fast-fail
	BreakerHalfOpen                     // probing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the gateway is considered unavailable.
var ErrCircuitOpen = errors.New("payment gateway circuit breaker is open")

// BreakerConfig holds tunable parameters.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip open
	SuccessThreshold int           // consecutive half-open successes to close
	OpenTimeout      time.Duration // how long to stay open before probing
}

// DefaultBreakerConfig returns the defaults used for the payment gateway.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing dependency for a while.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	cfg             BreakerConfig
	now             func() time.Time
	logger          zerolog.Logger
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	return &CircuitBreaker{
		state:  BreakerClosed,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "circuit_breaker").Logger(),
	}
}

// State returns the current state, moving open to half-open once the timeout elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.OpenTimeout {
		cb.setState(BreakerHalfOpen)
		cb.successCount = 0
	}
	return cb.state
}

// Execute runs fn unless the breaker is open. Errors for which countable
// returns false pass through without affecting the breaker.
func (cb *CircuitBreaker) Execute(fn func() error, countable func(error) bool) error {
	if cb.State() == BreakerOpen {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && (countable == nil || countable(err)) {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return err
}

// must be called under lock
func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case BreakerClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.setState(BreakerOpen)
			cb.successCount = 0
		}
	case BreakerHalfOpen:
		cb.setState(BreakerOpen)
		cb.failureCount = 0
	}
}

// must be called under lock
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case BreakerClosed:
		cb.failureCount = 0
	case BreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.setState(BreakerClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.logger.Warn().Str("from", cb.state.String()).Str("to", s.String()).Msg("circuit breaker state changed")
	cb.state = s
}

// breakerGateway guards a Gateway with a CircuitBreaker.
type breakerGateway struct {
	next    Gateway
	breaker *CircuitBreaker
}

// WithCircuitBreaker wraps gw so repeated failures fail fast.
func WithCircuitBreaker(gw Gateway, breaker *CircuitBreaker) Gateway {
	return &breakerGateway{next: gw, breaker: breaker}
}

func (g *breakerGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	var intent *Intent
	err := g.breaker.Execute(func() error {
		var err error
		intent, err = g.next.CreatePaymentIntent(ctx, req)
		return err
	}, countsAgainstGateway)
	return intent, err
}

func (g *breakerGateway) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	var info *PaymentInfo
	err := g.breaker.Execute(func() error {
		var err error
		info, err = g.next.GetPaymentStatus(ctx, paymentID)
		return err
	}, countsAgainstGateway)
	return info, err
}

// An unknown payment or a caller that gave up says nothing about gateway health.
func countsAgainstGateway(err error) bool {
	return !errors.Is(err, ErrPaymentNotFound) && !errors.Is(err, context.Canceled)
}
