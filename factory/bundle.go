package factory

import (
	"context"

	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/rules"
)

// Bundle contains the dependencies required by factory operations and is
// passed to every registered handler. It carries the Logger, the context
// accessor and an optional rule Recorder that factories attach to the
// aggregates they build.
// Use NewBundle to create a new Bundle.
type Bundle struct {
	Logger     logger.Logger
	GetContext func() context.Context
	Recorder   rules.Recorder
}

// BundleOption is a functional option for configuring a Bundle.
type BundleOption func(*Bundle)

// WithRecorder sets the recorder that receives a Record for every rule run
// on factory built aggregates.
func WithRecorder(rec rules.Recorder) BundleOption {
	return func(b *Bundle) {
		b.Recorder = rec
	}
}

// NewBundle creates and returns a new Bundle.
func NewBundle(getContext func() context.Context, lggr logger.Logger, opts ...BundleOption) Bundle {
	b := Bundle{
		Logger:     lggr,
		GetContext: getContext,
	}

	for _, opt := range opts {
		opt(&b)
	}

	return b
}
