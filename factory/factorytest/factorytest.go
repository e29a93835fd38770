// Package factorytest provides utilities for factory testing.
package factorytest

import (
	"testing"

	"github.com/entitykit/entitykit/factory"
	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/rules"
)

// NewBundle creates a new factory bundle for testing with a no-op logger
// and a memory recorder.
func NewBundle(t *testing.T) factory.Bundle {
	t.Helper()

	return factory.NewBundle(
		t.Context, logger.Nop(), factory.WithRecorder(rules.NewMemoryRecorder()),
	)
}
