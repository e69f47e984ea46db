package coordinator_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bunkrgrab/internal/config"
	"bunkrgrab/internal/coordinator"
	"bunkrgrab/internal/downloader"
	"bunkrgrab/internal/errs"
	"bunkrgrab/internal/filter"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/model"
	"bunkrgrab/internal/resolver"
	"bunkrgrab/internal/testutil"
)

// fakeResolver answers from a function and tracks concurrency.
type fakeResolver struct {
	fn          func(item *model.MediaItem) (*resolver.Resolved, error)
	delay       time.Duration
	calls       int32
	inFlight    int32
	maxInFlight int32
}

func (f *fakeResolver) Resolve(ctx context.Context, item *model.MediaItem) (*resolver.Resolved, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.inFlight, -1)
	if f.fn != nil {
		return f.fn(item)
	}
	return &resolver.Resolved{URL: "https://media.bunkr.ru/" + item.FileName, FileName: item.FileName}, nil
}

// fakeEngine records transfers without any network.
type fakeEngine struct {
	mu       sync.Mutex
	existing map[string]bool
	fail     map[string]error
	dests    []string
}

func (f *fakeEngine) Exists(ctx context.Context, url, dest string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[dest]
}

func (f *fakeEngine) Download(ctx context.Context, url, dest string) (*downloader.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[filepath.Base(dest)]; err != nil {
		return nil, err
	}
	f.dests = append(f.dests, dest)
	return &downloader.Result{Bytes: 100, Elapsed: time.Millisecond}, nil
}

func testCoordinator(t *testing.T, cfg *config.Config, fast, fallback resolver.Resolver, engine coordinator.Engine, rules filter.Rules, n int) (*coordinator.Coordinator, chan model.DownloadResult) {
	t.Helper()
	results := make(chan model.DownloadResult, n)
	log := logging.NewWriter(io.Discard, "error", false)
	return coordinator.New(cfg, fast, fallback, engine, rules, nil, nil, log, results), results
}

func collect(results chan model.DownloadResult, n int) map[model.Outcome][]model.DownloadResult {
	out := make(map[model.Outcome][]model.DownloadResult)
	for i := 0; i < n; i++ {
		r := <-results
		out[r.Outcome] = append(out[r.Outcome], r)
	}
	return out
}

func newTask(dir string, names ...string) *model.AlbumTask {
	task := &model.AlbumTask{URL: "https://bunkr.si/a/t", Name: "t", Dir: dir}
	for _, n := range names {
		task.Items = append(task.Items, &model.MediaItem{
			PageURL:  "https://bunkr.si/v/" + n,
			FileName: n,
			Status:   model.StatusPending,
		})
	}
	return task
}

func TestPipelineOutcomes(t *testing.T) {
	cfg := testutil.TestConfig(t)
	fast := &fakeResolver{}
	engine := &fakeEngine{fail: map[string]error{
		"broken.mp4": &errs.DownloadError{URL: "x", Status: 404},
	}}
	rules := filter.Rules{Ignore: []string{"skipme"}}
	coord, results := testCoordinator(t, cfg, fast, nil, engine, rules, 3)

	task := newTask(t.TempDir(), "good.mp4", "skipme.mp4", "broken.mp4")
	coord.Enqueue(context.Background(), task)
	coord.Wait()

	got := collect(results, 3)
	if len(got[model.OutcomeSuccess]) != 1 || len(got[model.OutcomeSkipped]) != 1 || len(got[model.OutcomeFailed]) != 1 {
		t.Fatalf("outcomes = success:%d skipped:%d failed:%d",
			len(got[model.OutcomeSuccess]), len(got[model.OutcomeSkipped]), len(got[model.OutcomeFailed]))
	}
	if got[model.OutcomeSuccess][0].FileName != "good.mp4" {
		t.Errorf("success = %+v", got[model.OutcomeSuccess][0])
	}
	if got[model.OutcomeFailed][0].Err == nil {
		t.Error("failed result must carry its error")
	}
	for _, it := range task.Items {
		if !it.Status.Terminal() {
			t.Errorf("item %s not terminal: %s", it.FileName, it.Status)
		}
	}
	// The filtered item never reached the resolver.
	if atomic.LoadInt32(&fast.calls) != 2 {
		t.Errorf("fast resolver calls = %d, want 2", fast.calls)
	}
}

func TestFallbackExclusivity(t *testing.T) {
	t.Run("fast success never renders", func(t *testing.T) {
		cfg := testutil.TestConfig(t)
		fast := &fakeResolver{}
		fallback := &fakeResolver{}
		coord, results := testCoordinator(t, cfg, fast, fallback, &fakeEngine{}, filter.Rules{}, 1)

		coord.Enqueue(context.Background(), newTask(t.TempDir(), "clip.mp4"))
		coord.Wait()
		r := <-results
		if r.Outcome != model.OutcomeSuccess || r.Fallback {
			t.Errorf("result = %+v", r)
		}
		if atomic.LoadInt32(&fallback.calls) != 0 {
			t.Errorf("fallback was called %d times", fallback.calls)
		}
	})

	t.Run("resolution error falls back once", func(t *testing.T) {
		cfg := testutil.TestConfig(t)
		fast := &fakeResolver{fn: func(item *model.MediaItem) (*resolver.Resolved, error) {
			return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseEmpty}
		}}
		fallback := &fakeResolver{}
		coord, results := testCoordinator(t, cfg, fast, fallback, &fakeEngine{}, filter.Rules{}, 1)

		coord.Enqueue(context.Background(), newTask(t.TempDir(), "clip.mp4"))
		coord.Wait()
		r := <-results
		if r.Outcome != model.OutcomeSuccess || !r.Fallback {
			t.Errorf("result = %+v", r)
		}
		if atomic.LoadInt32(&fallback.calls) != 1 {
			t.Errorf("fallback calls = %d, want 1", fallback.calls)
		}
	})

	t.Run("fallback verdict is final", func(t *testing.T) {
		cfg := testutil.TestConfig(t)
		resErr := func(item *model.MediaItem) (*resolver.Resolved, error) {
			return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseEmpty}
		}
		fast := &fakeResolver{fn: resErr}
		fallback := &fakeResolver{fn: resErr}
		coord, results := testCoordinator(t, cfg, fast, fallback, &fakeEngine{}, filter.Rules{}, 1)

		coord.Enqueue(context.Background(), newTask(t.TempDir(), "clip.mp4"))
		coord.Wait()
		r := <-results
		if r.Outcome != model.OutcomeFailed || !r.Fallback {
			t.Errorf("result = %+v", r)
		}
		if atomic.LoadInt32(&fast.calls) != 1 || atomic.LoadInt32(&fallback.calls) != 1 {
			t.Errorf("calls fast=%d fallback=%d, want 1 each", fast.calls, fallback.calls)
		}
	})
}

func TestPoolCapacity(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.Concurrency.FastWorkers = 2
	cfg.Concurrency.RenderWorkers = 1

	fast := &fakeResolver{delay: 20 * time.Millisecond, fn: func(item *model.MediaItem) (*resolver.Resolved, error) {
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseEmpty}
	}}
	fallback := &fakeResolver{delay: 20 * time.Millisecond, fn: func(item *model.MediaItem) (*resolver.Resolved, error) {
		return &resolver.Resolved{URL: "https://media.bunkr.ru/" + item.FileName, FileName: item.FileName}, nil
	}}
	coord, results := testCoordinator(t, cfg, fast, fallback, &fakeEngine{}, filter.Rules{}, 6)

	coord.Enqueue(context.Background(), newTask(t.TempDir(), "a.mp4", "b.mp4", "c.mp4", "d.mp4", "e.mp4", "f.mp4"))
	coord.Wait()
	collect(results, 6)

	if max := atomic.LoadInt32(&fast.maxInFlight); max > 2 {
		t.Errorf("fast pool exceeded its ceiling: %d concurrent", max)
	}
	if max := atomic.LoadInt32(&fallback.maxInFlight); max > 1 {
		t.Errorf("render pool exceeded its ceiling: %d concurrent", max)
	}
}

func TestDuplicateFilenames(t *testing.T) {
	cfg := testutil.TestConfig(t)
	engine := &fakeEngine{}
	coord, results := testCoordinator(t, cfg, &fakeResolver{}, nil, engine, filter.Rules{}, 2)

	dir := t.TempDir()
	coord.Enqueue(context.Background(), newTask(dir, "clip.mp4", "clip.mp4"))
	coord.Wait()
	collect(results, 2)

	if len(engine.dests) != 2 {
		t.Fatalf("downloads = %v", engine.dests)
	}
	if engine.dests[0] == engine.dests[1] {
		t.Errorf("duplicate names must map to distinct destinations: %v", engine.dests)
	}
	want := map[string]bool{
		filepath.Join(dir, "clip.mp4"):     true,
		filepath.Join(dir, "clip (2).mp4"): true,
	}
	for _, d := range engine.dests {
		if !want[d] {
			t.Errorf("unexpected destination %q", d)
		}
	}
}

func TestExistingFileSkips(t *testing.T) {
	cfg := testutil.TestConfig(t)
	dir := t.TempDir()
	engine := &fakeEngine{existing: map[string]bool{
		filepath.Join(dir, "clip.mp4"): true,
	}}
	coord, results := testCoordinator(t, cfg, &fakeResolver{}, nil, engine, filter.Rules{}, 1)

	coord.Enqueue(context.Background(), newTask(dir, "clip.mp4"))
	coord.Wait()
	r := <-results
	if r.Outcome != model.OutcomeSkipped {
		t.Errorf("result = %+v", r)
	}
	if len(engine.dests) != 0 {
		t.Errorf("no transfer should occur for an existing file: %v", engine.dests)
	}
}

func TestNonResolutionErrorSkipsFallback(t *testing.T) {
	cfg := testutil.TestConfig(t)
	fast := &fakeResolver{fn: func(item *model.MediaItem) (*resolver.Resolved, error) {
		return nil, errors.New("context torn down")
	}}
	fallback := &fakeResolver{}
	coord, results := testCoordinator(t, cfg, fast, fallback, &fakeEngine{}, filter.Rules{}, 1)

	coord.Enqueue(context.Background(), newTask(t.TempDir(), "clip.mp4"))
	coord.Wait()
	r := <-results
	if r.Outcome != model.OutcomeFailed || r.Fallback {
		t.Errorf("result = %+v", r)
	}
	if atomic.LoadInt32(&fallback.calls) != 0 {
		t.Errorf("fallback calls = %d, want 0", fallback.calls)
	}
}
