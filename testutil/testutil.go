// Package testutil provides helpers for starting and stopping
// lifecycle-managed components inside tests.
package testutil

import (
	"context"
	"testing"

	"github.com/kbukum/datagraph/component"
)

// CleanupFunc is a function that performs cleanup, typically stopping a
// component.
type CleanupFunc func() error

// Setup starts a component and returns a cleanup function.
//
//	cleanup, err := testutil.Setup(engineComponent)
//	if err != nil { t.Fatal(err) }
//	defer cleanup()
func Setup(c component.Component) (CleanupFunc, error) {
	return SetupWithContext(context.Background(), c)
}

// SetupWithContext starts a component with a custom context and returns
// a cleanup function.
func SetupWithContext(ctx context.Context, c component.Component) (CleanupFunc, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return func() error {
		return c.Stop(ctx)
	}, nil
}

// Start starts a component for the duration of a test, failing the test
// when startup errors and stopping the component on cleanup.
func Start(t *testing.T, c component.Component) {
	t.Helper()
	cleanup, err := Setup(c)
	if err != nil {
		t.Fatalf("starting %s: %v", c.Name(), err)
	}
	t.Cleanup(func() {
		if err := cleanup(); err != nil {
			t.Errorf("stopping %s: %v", c.Name(), err)
		}
	})
}
