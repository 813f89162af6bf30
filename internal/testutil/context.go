// Package testutil provides testing utilities shared across perfmerge packages.
package testutil

import (
	"context"
	"testing"
	"time"
)

// NewTestContext creates a context that is canceled after 30 seconds or when
// the test ends.
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
