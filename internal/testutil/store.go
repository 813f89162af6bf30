package testutil

import (
	"testing"

	"github.com/coral-mesh/perfmerge/internal/store"
)

// NewTestStore creates an in-memory artifact store closed when the test
// completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open("", NewTestLogger(t))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})

	return st
}
