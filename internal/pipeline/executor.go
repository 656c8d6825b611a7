package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"storyforge/internal/capability"
	"storyforge/internal/infra"
)

// AdapterLookup resolves the adapter serving a (capability, vendor) pair.
type AdapterLookup interface {
	Lookup(kind capability.Kind, vendor string) (capability.Adapter, bool)
}

// Attempt describes the invocation that won a capability run: the winning
// candidate plus the total attempt count across all candidates, so the
// metadata record shows the failed attempts that preceded the success.
type Attempt struct {
	Vendor   string
	Model    string
	Attempts int
	Latency  time.Duration
	Config   capability.ProviderConfig
}

// CandidateFailure is the last classified failure one candidate produced.
type CandidateFailure struct {
	Vendor string
	Model  string
	Kind   capability.FailureKind
	Err    error
}

// AllProvidersFailedError reports that every candidate for a capability was
// exhausted. It carries the last failure per candidate for diagnostics.
type AllProvidersFailedError struct {
	Capability capability.Kind
	Failures   []CandidateFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", f.Vendor, f.Model, f.Kind))
	}
	return fmt.Sprintf("all providers failed for %s [%s]", e.Capability, strings.Join(parts, ", "))
}

// Executor drives one capability call through the resolver's ordered
// candidate list. Retries are scoped within a candidate (transient faults);
// fallback moves across candidates (systemic vendor faults). Non-retryable
// failure kinds short-circuit to the next candidate immediately.
type Executor struct {
	resolver *capability.Resolver
	registry AdapterLookup
	logger   infra.Logger

	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

const defaultBackoffBase = 200 * time.Millisecond

func NewExecutor(resolver *capability.Resolver, registry AdapterLookup, logger infra.Logger) *Executor {
	return &Executor{
		resolver:    resolver,
		registry:    registry,
		logger:      logger,
		backoffBase: defaultBackoffBase,
		sleep:       sleepCtx,
	}
}

// Run resolves candidates for (kind, language) and attempts them in order.
// The first success wins; exhaustion returns AllProvidersFailedError.
func (x *Executor) Run(ctx context.Context, kind capability.Kind, language string, req capability.Request) (*capability.Result, Attempt, error) {
	candidates, err := x.resolver.Resolve(ctx, kind, language)
	if err != nil {
		return nil, Attempt{}, err
	}

	totalAttempts := 0
	failures := make([]CandidateFailure, 0, len(candidates))

	for _, cfg := range candidates {
		adapter, ok := x.registry.Lookup(kind, cfg.Vendor)
		if !ok {
			x.logger.Warn().
				Str("capability", string(kind)).
				Str("vendor", cfg.Vendor).
				Msg("executor: vendor has no adapter, skipping candidate")
			failures = append(failures, CandidateFailure{
				Vendor: cfg.Vendor,
				Model:  cfg.Model,
				Kind:   capability.FailureUnknown,
				Err:    fmt.Errorf("vendor %q has no adapter for %s", cfg.Vendor, kind),
			})
			continue
		}

		maxAttempts := cfg.Retries() + 1
		var lastErr error
		for attempt := 0; attempt < maxAttempts; attempt++ {
			totalAttempts++
			start := time.Now()
			result, err := x.invoke(ctx, adapter, req, cfg)
			latency := time.Since(start)
			if err == nil {
				return result, Attempt{
					Vendor:   cfg.Vendor,
					Model:    cfg.Model,
					Attempts: totalAttempts,
					Latency:  latency,
					Config:   cfg,
				}, nil
			}

			lastErr = err
			kindOfFailure := capability.Classify(err)
			x.logger.Warn().Err(err).
				Str("capability", string(kind)).
				Str("vendor", cfg.Vendor).
				Str("model", cfg.Model).
				Int("attempt", attempt+1).
				Str("failure_kind", string(kindOfFailure)).
				Msg("executor: candidate attempt failed")

			if !kindOfFailure.Retryable() {
				break
			}
			if attempt < maxAttempts-1 {
				if err := x.sleep(ctx, x.backoff(attempt)); err != nil {
					return nil, Attempt{}, err
				}
			}
		}

		failures = append(failures, CandidateFailure{
			Vendor: cfg.Vendor,
			Model:  cfg.Model,
			Kind:   capability.Classify(lastErr),
			Err:    lastErr,
		})
	}

	return nil, Attempt{Attempts: totalAttempts}, &AllProvidersFailedError{Capability: kind, Failures: failures}
}

// invoke runs one adapter call under the candidate's own deadline.
func (x *Executor) invoke(ctx context.Context, adapter capability.Adapter, req capability.Request, cfg capability.ProviderConfig) (*capability.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	return adapter.Invoke(callCtx, req, cfg)
}

// backoff returns the exponential delay before retry n, with jitter so
// concurrent jobs hitting the same rate limit spread out.
func (x *Executor) backoff(attempt int) time.Duration {
	d := x.backoffBase << uint(attempt)
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
