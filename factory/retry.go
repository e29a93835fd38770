package factory

import (
	"github.com/avast/retry-go/v4"
)

// RetryPolicy defines the arguments to control the retry behavior.
type RetryPolicy struct {
	MaxAttempts uint
}

// options returns the 'avast/retry' functional options for the retry policy.
func (p RetryPolicy) options() []retry.Option {
	return []retry.Option{
		retry.Attempts(p.MaxAttempts),
	}
}

// RetryConfig controls the retry applied to one factory call.
type RetryConfig struct {
	// Enabled determines if the retry is enabled for the call.
	Enabled bool

	// Policy is the retry policy to control the behavior of the retry.
	Policy RetryPolicy
}

// newDisabledRetryConfig returns a default retry configuration that is
// initially disabled.
func newDisabledRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled: false,
		Policy: RetryPolicy{
			MaxAttempts: 10,
		},
	}
}

// CallOption is a functional option for a single factory call.
type CallOption func(*callConfig)

type callConfig struct {
	retryConfig RetryConfig
}

func newCallConfig(opts []CallOption) callConfig {
	cfg := callConfig{retryConfig: newDisabledRetryConfig()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// WithRetry is a CallOption that enables the default retry for the call.
func WithRetry() CallOption {
	return func(c *callConfig) {
		c.retryConfig.Enabled = true
	}
}

// WithRetryPolicy is a CallOption that enables the retry with a custom
// policy.
func WithRetryPolicy(policy RetryPolicy) CallOption {
	return func(c *callConfig) {
		c.retryConfig.Enabled = true
		c.retryConfig.Policy = policy
	}
}

// NewUnrecoverableError wraps an error to signal the retry to stop early.
func NewUnrecoverableError(err error) error {
	return retry.Unrecoverable(err)
}

// executeCall runs one factory call, retrying it when the call options ask
// for that. Each attempt invokes run from scratch.
func executeCall[T any](b Bundle, factoryID string, op Op, cfg callConfig, run func() (T, error)) (T, error) {
	if !cfg.retryConfig.Enabled {
		return run()
	}

	retryOpts := cfg.retryConfig.Policy.options()
	retryOpts = append(retryOpts, retry.Context(b.GetContext()))
	retryOpts = append(retryOpts, retry.OnRetry(func(attempt uint, err error) {
		b.Logger.Infow("Factory operation failed. Retrying...",
			"factory", factoryID, "op", op, "attempt", attempt, "error", err)
	}))

	return retry.DoWithData(run, retryOpts...)
}
