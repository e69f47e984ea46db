package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"bunkrgrab/internal/config"
	"bunkrgrab/internal/errs"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/model"
	"bunkrgrab/internal/resolver"
	"bunkrgrab/internal/util"
)

// Selectors on the rendered viewer page. The static fast path uses the same
// hooks; the renderer exists for pages where the attribute is only populated
// by script after load.
const (
	sourceSelector = "source[src]"
	imageSelector  = `img[class*="max-h-full"][src]`
)

// Renderer is the fallback resolution path: load the item page in a headless
// browser context, wait (bounded) for the media element, read its resolved
// source. One shared browser; one context per item, so the render pool size
// caps live contexts.
type Renderer struct {
	cfg *config.Config
	log *logging.Logger

	once sync.Once
	pw   *playwright.Playwright
	br   playwright.Browser
	err  error
}

func New(cfg *config.Config, log *logging.Logger) *Renderer {
	return &Renderer{cfg: cfg, log: log.With("render")}
}

// start launches the browser on first use. Installing and launching a
// browser is expensive; runs where every item resolves on the fast path
// never pay it.
func (r *Renderer) start() error {
	r.once.Do(func() {
		pw, err := playwright.Run()
		if err != nil {
			r.err = fmt.Errorf("start playwright: %w", err)
			return
		}
		bt := pw.Firefox
		if r.cfg.Fallback.Browser == "chromium" {
			bt = pw.Chromium
		}
		br, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(r.cfg.Fallback.Headless),
		})
		if err != nil {
			_ = pw.Stop()
			r.err = fmt.Errorf("launch browser: %w", err)
			return
		}
		r.pw = pw
		r.br = br
	})
	return r.err
}

// Close tears down the browser and the driver. Safe to call when the
// renderer was never used.
func (r *Renderer) Close() {
	if r.br != nil {
		if err := r.br.Close(); err != nil {
			r.log.Warnf("close browser: %v", err)
		}
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil {
			r.log.Warnf("stop playwright: %v", err)
		}
	}
}

// Resolve renders the item page and extracts the media source. Any failure
// is terminal for the item; the coordinator records it as unresolved.
func (r *Renderer) Resolve(ctx context.Context, item *model.MediaItem) (*resolver.Resolved, error) {
	if err := ctx.Err(); err != nil {
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: err}
	}
	if err := r.start(); err != nil {
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: err}
	}
	item.FallbackAttempts++

	bctx, err := r.br.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(r.cfg.Network.UserAgent),
	})
	if err != nil {
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: err}
	}
	defer func() { _ = bctx.Close() }()

	// Goto and WaitFor block on playwright's own timeouts; closing the
	// context is what unblocks them when the run is cancelled mid-render.
	stop := abortOnCancel(ctx, bctx)
	defer stop()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: err}
	}

	// Capture media responses as they stream in; some pages attach the
	// source only through a media request, never as a DOM attribute.
	var captured string
	var capMu sync.Mutex
	page.OnResponse(func(resp playwright.Response) {
		ct := resp.Headers()["content-type"]
		if strings.HasPrefix(ct, "video/") || strings.HasPrefix(ct, "image/") {
			capMu.Lock()
			if captured == "" {
				captured = resp.URL()
			}
			capMu.Unlock()
		}
	})

	wait := float64(r.cfg.Fallback.WaitMS)
	if _, err := page.Goto(item.PageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(wait),
	}); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		}
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: err}
	}

	direct, err := r.waitForSource(page, wait)
	if err != nil {
		capMu.Lock()
		direct = captured
		capMu.Unlock()
		if direct == "" {
			if cerr := ctx.Err(); cerr != nil {
				return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: cerr}
			}
			return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseEmpty, Err: err}
		}
	}

	name := item.FileName
	if name == "" {
		name = util.URLPathBase(direct)
	}
	r.log.Debugf("rendered %s -> %s", item.PageURL, direct)
	return &resolver.Resolved{URL: direct, FileName: name}, nil
}

// contextCloser is the slice of playwright.BrowserContext the cancel watch
// needs.
type contextCloser interface {
	Close(options ...playwright.BrowserContextCloseOptions) error
}

// abortOnCancel closes the browser context once ctx is cancelled, failing
// any in-flight navigation or locator wait. The returned stop ends the
// watch and does not return until the watcher is gone.
func abortOnCancel(ctx context.Context, bctx contextCloser) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = bctx.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (r *Renderer) waitForSource(page playwright.Page, timeoutMS float64) (string, error) {
	for _, sel := range []string{sourceSelector, imageSelector} {
		loc := page.Locator(sel).First()
		if err := loc.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: playwright.Float(timeoutMS / 2),
		}); err != nil {
			continue
		}
		src, err := loc.GetAttribute("src")
		if err != nil || strings.TrimSpace(src) == "" {
			continue
		}
		return strings.TrimSpace(src), nil
	}
	return "", errors.New("no media element surfaced")
}
