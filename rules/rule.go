// Package rules implements the rule engine that drives entity validation
// and calculation. Rules declare the properties that trigger them, a Manager
// schedules triggered rules synchronously or asynchronously, and the
// messages they produce roll up into entity validity.
package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/avast/retry-go/v4"
)

// ErrTargetType is returned when a rule executes against a target of the
// wrong type.
var ErrTargetType = errors.New("rule target type mismatch")

// Handler is the function signature of a rule handler. The handler reads
// and writes the target's properties with the given context so that writes
// made by the rule are attributed to it.
type Handler[T any] func(ctx context.Context, target T) (Result, error)

// Definition is the metadata for a rule.
// It contains the ID, version and description.
type Definition struct {
	ID          string          `json:"id"`
	Version     *semver.Version `json:"version"`
	Description string          `json:"description"`
}

// Rule is a named unit of validation or calculation bound to the properties
// that trigger it. Implementations must be safe to execute from multiple
// goroutines when used as async rules.
type Rule interface {
	// Def returns the rule definition.
	Def() Definition

	// Triggers returns the property names whose writes schedule the rule.
	Triggers() []string

	// Async reports whether the rule runs on its own goroutine.
	Async() bool

	// Execute runs the rule against the target entity.
	Execute(ctx context.Context, target any) (Result, error)
}

// Retryable is implemented by rules that want failed runs retried. The
// Manager retries the rule according to the returned policy.
type Retryable interface {
	RetryPolicy() RetryPolicy
}

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

// NewUnrecoverableError creates an error that indicates an unrecoverable error.
// If this error is returned inside a rule, the rule will no longer retry.
// This allows the rule to fail fast if it encounters an unrecoverable error.
func NewUnrecoverableError(err error) error {
	return retry.Unrecoverable(err)
}

// Option configures a rule created with New.
type Option func(*settings)

type settings struct {
	async bool
	retry RetryPolicy
}

// WithAsync marks the rule to run on its own goroutine. The properties that
// trigger an async rule report busy until the run completes.
func WithAsync() Option {
	return func(s *settings) {
		s.async = true
	}
}

// WithRetry sets the retry policy applied to failed runs of the rule.
func WithRetry(policy RetryPolicy) Option {
	return func(s *settings) {
		s.retry = policy
	}
}

type rule[T any] struct {
	def      Definition
	triggers []string
	settings settings
	handler  Handler[T]
}

var _ Rule = &rule[any]{}

// New creates a new rule.
// Version can be created using semver.MustParse("1.0.0") or semver.New("1.0.0").
// Triggers name the properties whose writes schedule the rule.
func New[T any](
	id string, version *semver.Version, description string, handler Handler[T], triggers []string, opts ...Option,
) Rule {
	r := &rule[T]{
		def: Definition{
			ID:          id,
			Version:     version,
			Description: description,
		},
		triggers: triggers,
		handler:  handler,
	}
	for _, opt := range opts {
		opt(&r.settings)
	}

	return r
}

func (r *rule[T]) Def() Definition { return r.def }

func (r *rule[T]) Triggers() []string { return r.triggers }

func (r *rule[T]) Async() bool { return r.settings.async }

func (r *rule[T]) RetryPolicy() RetryPolicy { return r.settings.retry }

func (r *rule[T]) Execute(ctx context.Context, target any) (Result, error) {
	typed, ok := target.(T)
	if !ok {
		return Result{}, fmt.Errorf("%w: rule %s expects %T", ErrTargetType, r.def.ID, typed)
	}

	return r.handler(ctx, typed)
}
