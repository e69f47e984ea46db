package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"bunkrgrab/internal/config"
	"bunkrgrab/internal/downloader"
	"bunkrgrab/internal/errs"
	"bunkrgrab/internal/filter"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/metrics"
	"bunkrgrab/internal/model"
	"bunkrgrab/internal/resolver"
	"bunkrgrab/internal/state"
	"bunkrgrab/internal/util"
)

// Engine is the download surface the coordinator drives. Satisfied by
// *downloader.Engine; tests substitute a recorder.
type Engine interface {
	Exists(ctx context.Context, url, dest string) bool
	Download(ctx context.Context, url, dest string) (*downloader.Result, error)
}

// Coordinator drives every MediaItem through its state machine under two
// global worker pools: a wide one for fast HTML resolution and downloads, a
// narrow one for the rendering fallback. Both pools are shared across all
// albums of a run, so a batch of many albums still respects the same
// ceilings as a single album.
type Coordinator struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *metrics.Manager
	fast     resolver.Resolver
	fallback resolver.Resolver
	engine   Engine
	rules    filter.Rules
	db       *state.DB

	fastSem   *semaphore.Weighted
	renderSem *semaphore.Weighted
	limiter   *rate.Limiter
	results   chan<- model.DownloadResult
	wg        sync.WaitGroup

	destMu  sync.Mutex
	claimed map[string]bool
}

func New(cfg *config.Config, fast, fallback resolver.Resolver, engine Engine, rules filter.Rules, db *state.DB, m *metrics.Manager, log *logging.Logger, results chan<- model.DownloadResult) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		log:       log.With("coordinator"),
		metrics:   m,
		fast:      fast,
		fallback:  fallback,
		engine:    engine,
		rules:     rules,
		db:        db,
		fastSem:   semaphore.NewWeighted(int64(cfg.Concurrency.FastWorkers)),
		renderSem: semaphore.NewWeighted(int64(cfg.Concurrency.RenderWorkers)),
		limiter:   newLimiter(cfg.Concurrency.HostRPS),
		results:   results,
		claimed:   make(map[string]bool),
	}
}

// newLimiter throttles fast-path page fetches. Zero or negative disables.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Enqueue schedules every item of the task. It returns immediately; Wait
// blocks for completion. Each item produces exactly one DownloadResult.
func (c *Coordinator) Enqueue(ctx context.Context, task *model.AlbumTask) {
	for _, item := range task.Items {
		c.wg.Add(1)
		go func(it *model.MediaItem) {
			defer c.wg.Done()
			c.process(ctx, task, it)
		}(item)
	}
}

// Wait blocks until every enqueued item has reached a terminal status.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) process(ctx context.Context, task *model.AlbumTask, item *model.MediaItem) {
	// Filter on the crawl-time name hint first: a rejected item costs no
	// network work at all.
	if item.FileName != "" && !c.rules.Admit(item.FileName) {
		c.transition(item, model.StatusSkipped)
		c.metrics.IncItemsSkipped()
		c.finish(task, item, model.DownloadResult{Outcome: model.OutcomeSkipped})
		return
	}

	res, fellBack, err := c.resolve(ctx, item)
	if err != nil {
		item.LastError = err.Error()
		c.transition(item, model.StatusFailed)
		c.finish(task, item, model.DownloadResult{Outcome: model.OutcomeFailed, Fallback: fellBack, Err: err})
		return
	}
	item.DirectURL = res.URL
	item.FileName = res.FileName

	// Second filter pass with the authoritative filename. Items whose hint
	// was empty get their only check here.
	if !c.rules.Admit(item.FileName) {
		c.transition(item, model.StatusSkipped)
		c.metrics.IncItemsSkipped()
		c.finish(task, item, model.DownloadResult{Outcome: model.OutcomeSkipped, Fallback: fellBack})
		return
	}

	dest := c.claimDest(task.Dir, item.FileName)
	if c.engine.Exists(ctx, item.DirectURL, dest) {
		c.transition(item, model.StatusSkipped)
		c.metrics.IncItemsSkipped()
		c.finish(task, item, model.DownloadResult{Dest: dest, Outcome: model.OutcomeSkipped, Fallback: fellBack})
		return
	}

	c.transition(item, model.StatusDownloading)
	if err := c.fastSem.Acquire(ctx, 1); err != nil {
		item.LastError = err.Error()
		c.transition(item, model.StatusFailed)
		c.finish(task, item, model.DownloadResult{Dest: dest, Outcome: model.OutcomeFailed, Fallback: fellBack, Err: err})
		return
	}
	dl, err := c.engine.Download(ctx, item.DirectURL, dest)
	c.fastSem.Release(1)
	if err != nil {
		item.LastError = err.Error()
		c.transition(item, model.StatusFailed)
		c.metrics.IncDownloadsFailed()
		c.finish(task, item, model.DownloadResult{Dest: dest, Outcome: model.OutcomeFailed, Fallback: fellBack, Err: err})
		return
	}

	c.transition(item, model.StatusDone)
	c.finish(task, item, model.DownloadResult{
		Dest:     dest,
		Bytes:    dl.Bytes,
		Elapsed:  dl.Elapsed,
		Outcome:  model.OutcomeSuccess,
		Fallback: fellBack,
	})
}

// resolve runs the fast path and, on a ResolutionError, exactly one fallback
// pass. The paths are exclusive: an item that resolved fast never touches
// the renderer, and the fallback's verdict is final.
func (c *Coordinator) resolve(ctx context.Context, item *model.MediaItem) (*resolver.Resolved, bool, error) {
	if err := c.fastSem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	c.transition(item, model.StatusResolvingFast)
	if err := c.limiter.Wait(ctx); err != nil {
		c.fastSem.Release(1)
		return nil, false, err
	}
	res, err := c.fast.Resolve(ctx, item)
	c.fastSem.Release(1)
	if err == nil {
		c.transition(item, model.StatusResolved)
		return res, false, nil
	}

	var re *errs.ResolutionError
	if !errors.As(err, &re) || c.fallback == nil {
		return nil, false, err
	}
	c.log.Infof("fast path gave up on %s (%s), rendering", item.PageURL, re.Cause)

	c.transition(item, model.StatusResolvingFallback)
	if aerr := c.renderSem.Acquire(ctx, 1); aerr != nil {
		return nil, true, aerr
	}
	res, err = c.fallback.Resolve(ctx, item)
	c.renderSem.Release(1)
	if err != nil {
		return nil, true, err
	}
	c.transition(item, model.StatusResolved)
	c.metrics.IncFallbackResolves()
	return res, true, nil
}

// claimDest reserves a destination path. Two items in one run can share a
// filename; the later claim gets a numbered suffix. Paths already on disk
// are returned as-is so the existing-file skip check fires instead.
func (c *Coordinator) claimDest(dir, fileName string) string {
	base := util.SafeName(fileName)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	c.destMu.Lock()
	defer c.destMu.Unlock()
	dest := filepath.Join(dir, base)
	for i := 2; c.claimed[dest]; i++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, i, ext))
	}
	c.claimed[dest] = true
	return dest
}

// transition applies a state edge, complaining loudly if the edge is not in
// the machine. An invalid edge is a coordinator bug, not an item failure.
func (c *Coordinator) transition(item *model.MediaItem, to model.Status) {
	if !item.Status.CanTransition(to) {
		c.log.Errorf("invalid transition %s -> %s for %s", item.Status, to, item.PageURL)
		return
	}
	item.Status = to
}

// finish stamps the identifying fields, persists the outcome and emits the
// item's single DownloadResult.
func (c *Coordinator) finish(task *model.AlbumTask, item *model.MediaItem, res model.DownloadResult) {
	res.Album = task.Name
	res.PageURL = item.PageURL
	res.FileName = item.FileName
	if c.db != nil {
		row := state.ItemRow{
			PageURL:  item.PageURL,
			Dest:     res.Dest,
			Album:    task.Name,
			Size:     res.Bytes,
			Status:   item.Status.String(),
			Fallback: res.Fallback,
		}
		if res.Err != nil {
			row.LastError = res.Err.Error()
		}
		if err := c.db.UpsertItem(row); err != nil {
			c.log.Warnf("record item: %v", err)
		}
	}
	c.results <- res
}
