package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/kbukum/datagraph/component"
)

type fakeComponent struct {
	started bool
	stopped bool
	failOn  string
}

func (f *fakeComponent) Name() string { return "fake" }

func (f *fakeComponent) Start(context.Context) error {
	if f.failOn == "start" {
		return fmt.Errorf("start refused")
	}
	f.started = true
	return nil
}

func (f *fakeComponent) Stop(context.Context) error {
	if f.failOn == "stop" {
		return fmt.Errorf("stop refused")
	}
	f.stopped = true
	return nil
}

func (f *fakeComponent) Health(context.Context) component.Health {
	return component.Health{Name: "fake", Status: component.StatusHealthy}
}

func TestSetupAndCleanup(t *testing.T) {
	f := &fakeComponent{}
	cleanup, err := Setup(f)
	if err != nil {
		t.Fatal(err)
	}
	if !f.started {
		t.Fatal("component must be started")
	}
	if err := cleanup(); err != nil {
		t.Fatal(err)
	}
	if !f.stopped {
		t.Fatal("cleanup must stop the component")
	}
}

func TestSetupPropagatesStartError(t *testing.T) {
	f := &fakeComponent{failOn: "start"}
	if _, err := Setup(f); err == nil {
		t.Fatal("expected start error")
	}
	if f.started {
		t.Fatal("failed start must not mark the component started")
	}
}

func TestStartStopsOnCleanup(t *testing.T) {
	f := &fakeComponent{}
	t.Run("inner", func(t *testing.T) {
		Start(t, f)
		if !f.started {
			t.Fatal("component must be started")
		}
	})
	if !f.stopped {
		t.Fatal("component must be stopped after the subtest")
	}
}
