package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bunkrgrab/internal/config"
)

// Manager accumulates run counters and writes them as a Prometheus textfile.
// A nil Manager is valid and records nothing, so callers never branch on
// whether metrics are enabled.
type Manager struct {
	path string
	mu   sync.Mutex

	bytesTotal       int64
	retriesTotal     int64
	downloadsSuccess int64
	downloadsFailed  int64
	itemsSkipped     int64
	fallbackResolves int64
	lastDownloadSec  float64
}

func New(cfg *config.Config) *Manager {
	if cfg == nil || !cfg.Metrics.PrometheusTextfile.Enabled || cfg.Metrics.PrometheusTextfile.Path == "" {
		return nil
	}
	p := cfg.Metrics.PrometheusTextfile.Path
	_ = os.MkdirAll(filepath.Dir(p), 0o755)
	return &Manager{path: p}
}

func (m *Manager) AddBytes(n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.bytesTotal += n
	m.mu.Unlock()
}

func (m *Manager) IncRetries(n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.retriesTotal += n
	m.mu.Unlock()
}

func (m *Manager) IncDownloadsSuccess() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.downloadsSuccess++
	m.mu.Unlock()
}

func (m *Manager) IncDownloadsFailed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.downloadsFailed++
	m.mu.Unlock()
}

func (m *Manager) IncItemsSkipped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.itemsSkipped++
	m.mu.Unlock()
}

func (m *Manager) IncFallbackResolves() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.fallbackResolves++
	m.mu.Unlock()
}

func (m *Manager) ObserveDownloadSeconds(sec float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastDownloadSec = sec
	m.mu.Unlock()
}

// Write renders the textfile atomically (temp + rename) so a scraper never
// reads a half-written file.
func (m *Manager) Write() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.CreateTemp(filepath.Dir(m.path), ".metrics.tmp.*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	counters := []struct {
		name, help, typ string
		value           string
	}{
		{"bunkrgrab_bytes_downloaded_total", "Total bytes downloaded.", "counter", fmt.Sprintf("%d", m.bytesTotal)},
		{"bunkrgrab_retries_total", "Total download retries.", "counter", fmt.Sprintf("%d", m.retriesTotal)},
		{"bunkrgrab_downloads_success_total", "Total successful downloads.", "counter", fmt.Sprintf("%d", m.downloadsSuccess)},
		{"bunkrgrab_downloads_failed_total", "Total failed items.", "counter", fmt.Sprintf("%d", m.downloadsFailed)},
		{"bunkrgrab_items_skipped_total", "Items skipped by filters or existing files.", "counter", fmt.Sprintf("%d", m.itemsSkipped)},
		{"bunkrgrab_fallback_resolves_total", "Items resolved through the rendering fallback.", "counter", fmt.Sprintf("%d", m.fallbackResolves)},
		{"bunkrgrab_last_download_seconds", "Duration of the last completed download in seconds.", "gauge", fmt.Sprintf("%.6f", m.lastDownloadSec)},
		{"bunkrgrab_metrics_timestamp_seconds", "UNIX timestamp when this file was written.", "gauge", fmt.Sprintf("%d", time.Now().Unix())},
	}
	for _, c := range counters {
		fmt.Fprintf(f, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(f, "# TYPE %s %s\n", c.name, c.typ)
		fmt.Fprintf(f, "%s %s\n", c.name, c.value)
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), m.path)
}
