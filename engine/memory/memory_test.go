package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/engine/enginetest"
	"github.com/kbukum/datagraph/logger"
)

func TestConformance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Engine {
		return New(logger.Nop())
	})
}

func TestDistinctIdentities(t *testing.T) {
	a := New(logger.Nop())
	b := New(logger.Nop())
	if a.ID() == b.ID() {
		t.Fatal("two engines must have distinct identities")
	}
}

func TestConcurrentAppendsToDistinctDatasets(t *testing.T) {
	e := New(logger.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		md, err := dataset.New(dataset.Spec{
			Name:     fmt.Sprintf("bars-%d", i),
			Version:  "1.0.0",
			EngineID: e.ID(),
		})
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(md *dataset.Metadata, i int) {
			defer wg.Done()
			s, err := dataset.NewSeries(
				[]time.Time{time.Date(2020, 3, 1, i, 0, 0, 0, time.UTC)},
				[]any{float64(i)},
			)
			if err != nil {
				errs <- err
				return
			}
			errs <- e.Append(ctx, md, s)
		}(md, i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestConcurrentReadersDuringWrite(t *testing.T) {
	e := New(logger.Nop())
	ctx := context.Background()
	md, _ := dataset.New(dataset.Spec{Name: "bars", Version: "1", EngineID: e.ID()})

	write := func(d int) {
		s, _ := dataset.NewSeries(
			[]time.Time{time.Date(2020, 3, d, 0, 0, 0, 0, time.UTC)},
			[]any{float64(d)},
		)
		if err := e.Append(ctx, md, s); err != nil {
			t.Error(err)
		}
	}
	write(1)

	var wg sync.WaitGroup
	for d := 2; d < 12; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			// readers race the writers; every observed payload must have
			// a strictly increasing index, never a torn one.
			payload, err := e.Read(ctx, md, nil)
			if err != nil {
				t.Error(err)
				return
			}
			times := payload.(*dataset.Series).Times()
			for i := 1; i < len(times); i++ {
				if !times[i-1].Before(times[i]) {
					t.Error("observed a torn payload")
				}
			}
		}(d)
	}
	for d := 2; d < 12; d++ {
		write(d)
	}
	wg.Wait()
}
