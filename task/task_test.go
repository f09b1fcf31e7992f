package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kbukum/datagraph/completion"
	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine/memory"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/timerange"
)

func day(d int) time.Time {
	return time.Date(2020, 2, d, 0, 0, 0, 0, time.UTC)
}

func mkSeries(t *testing.T, days ...int) *dataset.Series {
	t.Helper()
	times := make([]time.Time, len(days))
	values := make([]any, len(days))
	for i, d := range days {
		times[i] = day(d)
		values[i] = float64(d)
	}
	s, err := dataset.NewSeries(times, values)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// sourceFunc emits one row per day of the fetch window.
func sourceFunc(_ context.Context, in Inputs) (dataset.Payload, error) {
	var times []time.Time
	var values []any
	for ts := in.TimeRange.Start; ts.Before(in.TimeRange.End); ts = ts.AddDate(0, 0, 1) {
		times = append(times, ts)
		values = append(values, float64(ts.Day()))
	}
	return dataset.NewSeries(times, values)
}

func testContext(t *testing.T) (*Context, *memory.Engine) {
	t.Helper()
	e := memory.New(logger.Nop())
	target := timerange.MustNew(day(1), day(6))
	ctx := NewContext(Defaults{
		Version:     "1.0.0",
		Engine:      e,
		TargetRange: &target,
	}, logger.Nop())
	return ctx, e
}

func TestOutputIsStable(t *testing.T) {
	c, _ := testContext(t)
	mk := func() *Task {
		task, err := c.TimeSeriesTask("bars", sourceFunc, WithParam("venue", "nyse"))
		if err != nil {
			t.Fatal(err)
		}
		return task
	}
	a, b := mk(), mk()
	if a.Output().Hash() != b.Output().Hash() {
		t.Fatal("equal task definitions must address the same output")
	}
	if a.Output() != a.Output() {
		t.Fatal("output must be computed once")
	}
}

func TestRunThenAlreadyComplete(t *testing.T) {
	c, e := testContext(t)
	calls := 0
	counting := func(ctx context.Context, in Inputs) (dataset.Payload, error) {
		calls++
		return sourceFunc(ctx, in)
	}
	task, err := c.TimeSeriesTask("bars", counting)
	if err != nil {
		t.Fatal(err)
	}

	res := task.Run(context.Background())
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}
	if calls != 1 {
		t.Fatalf("expected one invocation, got %d", calls)
	}

	tr, err := e.Range(context.Background(), task.Output())
	if err != nil || tr == nil {
		t.Fatalf("expected persisted range, got %v err %v", tr, err)
	}

	// second run writes nothing and never invokes the function
	res = task.Run(context.Background())
	if res.Status != StatusAlreadyComplete {
		t.Fatalf("expected already_complete, got %s", res.Status)
	}
	if calls != 1 {
		t.Fatalf("no-op run must not invoke the function, got %d calls", calls)
	}
}

func TestRunIncrementalAppendsOnlyMissingRange(t *testing.T) {
	c, e := testContext(t)
	var windows []timerange.TimeRange
	recording := func(ctx context.Context, in Inputs) (dataset.Payload, error) {
		windows = append(windows, *in.TimeRange)
		return sourceFunc(ctx, in)
	}
	// an every-day calendar, so a prefix does not already count complete
	daily := &timerange.TimeOfDayCalendar{
		TimeOfDay: timerange.At(0, 0, time.UTC),
		Weekdays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
	}
	task, err := c.TimeSeriesTask("bars", recording,
		WithChecker(completion.NewCalendarChecker(daily)))
	if err != nil {
		t.Fatal(err)
	}

	// seed a prefix with rows on day1 and day2
	if err := e.Append(context.Background(), task.Output(), mkSeries(t, 1, 2)); err != nil {
		t.Fatal(err)
	}

	res := task.Run(context.Background())
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected one invocation, got %d", len(windows))
	}
	if !windows[0].End.Equal(day(6)) {
		t.Fatalf("missing range must end at the target end, got %s", windows[0])
	}
	if windows[0].Start.Before(day(2)) {
		t.Fatalf("missing range must start after the existing prefix, got %s", windows[0])
	}

	payload, _ := e.Read(context.Background(), task.Output(), nil)
	if payload.(*dataset.Series).Len() != 6 {
		t.Fatalf("expected 6 rows after incremental run, got %d", payload.(*dataset.Series).Len())
	}
}

func TestInheritedCheckerMatchesParent(t *testing.T) {
	c, _ := testContext(t)
	parentChecker := completion.NewCalendarChecker(
		timerange.NewTimeOfDayCalendar(timerange.At(16, 30, time.UTC)))
	parent, err := c.TimeSeriesTask("bars", sourceFunc, WithChecker(parentChecker))
	if err != nil {
		t.Fatal(err)
	}
	child, err := c.TimeSeriesTask("returns", sourceFunc, WithTask("bars", parent))
	if err != nil {
		t.Fatal(err)
	}

	target := timerange.MustNew(day(1), day(6))
	wantTS, wantOK, _ := parentChecker.ExpectedLast(target)
	gotTS, gotOK, _ := child.Checker().ExpectedLast(target)
	if wantOK != gotOK || !gotTS.Equal(wantTS) {
		t.Fatalf("child must inherit the parent's expectation: want %s, got %s", wantTS, gotTS)
	}
}

func TestNoInheritFallsBackToIrregular(t *testing.T) {
	c, _ := testContext(t)
	parent, _ := c.TimeSeriesTask("bars", sourceFunc,
		WithChecker(completion.NewCalendarChecker(timerange.NewTimeOfDayCalendar(timerange.At(16, 30, time.UTC)))))
	child, err := c.TimeSeriesTask("returns", sourceFunc,
		WithDependency("bars", Dep(parent).NoInherit()))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := child.Checker().(*completion.IrregularChecker); !ok {
		t.Fatalf("expected irregular checker, got %T", child.Checker())
	}
}

func TestTwoInheritingParentsCompose(t *testing.T) {
	c, _ := testContext(t)
	p1, _ := c.TimeSeriesTask("a", sourceFunc,
		WithChecker(completion.NewCalendarChecker(timerange.NewTimeOfDayCalendar(timerange.At(15, 0, time.UTC)))))
	p2, _ := c.TimeSeriesTask("b", sourceFunc,
		WithChecker(completion.NewCalendarChecker(timerange.NewTimeOfDayCalendar(timerange.At(17, 0, time.UTC)))))
	child, err := c.TimeSeriesTask("c", sourceFunc,
		WithTask("a", p1), WithTask("b", p2))
	if err != nil {
		t.Fatal(err)
	}
	comp, ok := child.Checker().(*completion.CompositeChecker)
	if !ok {
		t.Fatalf("expected composite checker, got %T", child.Checker())
	}
	if comp.Strategy != completion.Strictest {
		t.Fatal("inheritance composes under the strictest strategy")
	}

	// Wednesday 18:00 -> min(15:00, 17:00) = 15:00
	target := timerange.MustNew(day(3), time.Date(2020, 2, 5, 18, 0, 0, 0, time.UTC))
	got, ok, err := comp.ExpectedLast(target)
	if err != nil || !ok {
		t.Fatalf("expected an instant, ok=%v err=%v", ok, err)
	}
	want := time.Date(2020, 2, 5, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLookbackFetchWindow(t *testing.T) {
	c, _ := testContext(t)
	parent, _ := c.TimeSeriesTask("bars", sourceFunc)
	_ = parent.Run(context.Background())

	var got map[string]dataset.Payload
	var window timerange.TimeRange
	child, err := c.TimeSeriesTask("sma", func(_ context.Context, in Inputs) (dataset.Payload, error) {
		got = in.Data
		window = *in.TimeRange
		s, _ := in.Series("bars")
		return s.Slice(*in.TimeRange), nil
	}, WithDependency("bars", Dep(parent).WithLookback(48*time.Hour)),
		WithTargetRange(timerange.MustNew(day(4), day(6))))
	if err != nil {
		t.Fatal(err)
	}

	target := timerange.MustNew(day(4), day(6))
	fetch := Dep(parent).WithLookback(48 * time.Hour).FetchRange(target)
	if !fetch.Start.Equal(day(2)) || !fetch.End.Equal(day(6)) {
		t.Fatalf("unexpected fetch range %s", fetch)
	}

	res := child.Run(context.Background())
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}
	if window.IsEmpty() {
		t.Fatal("function must receive the fetch window")
	}
	bars, ok := got["bars"].(*dataset.Series)
	if !ok {
		t.Fatal("dependency payload must arrive under its registered name")
	}
	// lookback pulls two extra days before the target start
	first, _ := bars.At(0)
	if !first.Equal(day(1)) && !first.Equal(day(2)) {
		t.Fatalf("lookback rows missing, first row %s", first)
	}
}

func TestEngineBranching(t *testing.T) {
	c, e1 := testContext(t)
	e2 := memory.New(logger.Nop())

	parent, _ := c.TimeSeriesTask("bars", sourceFunc)
	if res := parent.Run(context.Background()); res.Status != StatusSuccess {
		t.Fatalf("parent run failed: %v", res.Err)
	}

	child, err := c.TimeSeriesTask("returns", func(_ context.Context, in Inputs) (dataset.Payload, error) {
		s, err := in.Series("bars")
		if err != nil {
			return nil, err
		}
		return s.Slice(*in.TimeRange), nil
	}, WithTask("bars", parent), WithEngine(e2))
	if err != nil {
		t.Fatal(err)
	}

	if child.Output().EngineID() != e2.ID() {
		t.Fatal("explicit engine must own the child output")
	}

	res := child.Run(context.Background())
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}

	ok, _ := e2.Exists(context.Background(), child.Output())
	if !ok {
		t.Fatal("child output must live in its own engine")
	}
	ok, _ = e1.Exists(context.Background(), child.Output())
	if ok {
		t.Fatal("child output must not leak into the parent's engine")
	}
}

func TestStaticTaskReplaces(t *testing.T) {
	c, e := testContext(t)
	version := 0
	universe, err := c.StaticTask("universe", func(_ context.Context, in Inputs) (dataset.Payload, error) {
		version++
		return dataset.NewBlob(fmt.Sprintf("v%d", version)), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if res := universe.Run(context.Background()); res.Status != StatusSuccess {
		t.Fatalf("first run failed: %v", res.Err)
	}
	// a static task is complete once it exists
	if res := universe.Run(context.Background()); res.Status != StatusAlreadyComplete {
		t.Fatalf("expected already_complete, got %s", res.Status)
	}

	payload, err := e.Read(context.Background(), universe.Output(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if payload.(*dataset.Blob).Value() != "v1" {
		t.Fatalf("unexpected blob %v", payload.(*dataset.Blob).Value())
	}
}

func TestUserFunctionErrorIsCaptured(t *testing.T) {
	c, _ := testContext(t)
	task, _ := c.TimeSeriesTask("bars", func(context.Context, Inputs) (dataset.Payload, error) {
		return nil, fmt.Errorf("upstream feed is down")
	})
	res := task.Run(context.Background())
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if !errors.Is(res.Err, errors.ErrCodeUserFunction) {
		t.Fatalf("expected USER_FUNCTION_ERROR, got %v", res.Err)
	}
}

func TestUserFunctionPanicIsCaptured(t *testing.T) {
	c, _ := testContext(t)
	task, _ := c.TimeSeriesTask("bars", func(context.Context, Inputs) (dataset.Payload, error) {
		panic("boom")
	})
	res := task.Run(context.Background())
	if res.Status != StatusFailed || !errors.Is(res.Err, errors.ErrCodeUserFunction) {
		t.Fatalf("expected captured panic, got %s %v", res.Status, res.Err)
	}
}

func TestParamAndDependencyNameClash(t *testing.T) {
	c, _ := testContext(t)
	parent, _ := c.TimeSeriesTask("bars", sourceFunc)
	_, err := c.TimeSeriesTask("x", sourceFunc,
		WithParam("bars", 1), WithTask("bars", parent))
	if !errors.Is(err, errors.ErrCodeInvalidParameter) {
		t.Fatalf("expected INVALID_PARAMETER, got %v", err)
	}
}

func TestNamespaceExtension(t *testing.T) {
	c, _ := testContext(t)
	sub := c.ExtendNamespace("research").ExtendNamespace("macd")
	task, err := sub.TimeSeriesTask("signal", sourceFunc)
	if err != nil {
		t.Fatal(err)
	}
	if task.Name() != "research.macd.signal" {
		t.Fatalf("unexpected name %q", task.Name())
	}
	if task.Output().Name() != "research.macd.signal" {
		t.Fatalf("unexpected output name %q", task.Output().Name())
	}
}

func TestRawParamsReachFunctionUnnormalised(t *testing.T) {
	c, _ := testContext(t)
	var seen any
	task, err := c.TimeSeriesTask("bars", func(ctx context.Context, in Inputs) (dataset.Payload, error) {
		seen = in.Params["windows"]
		return sourceFunc(ctx, in)
	}, WithParam("windows", []int{5, 20}))
	if err != nil {
		t.Fatal(err)
	}
	if res := task.Run(context.Background()); res.Status != StatusSuccess {
		t.Fatalf("run failed: %v", res.Err)
	}
	if _, ok := seen.([]int); !ok {
		t.Fatalf("function must see the raw value, got %T", seen)
	}
}
