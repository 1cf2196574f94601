package telemetry

import (
	"sync"
	"time"
)

// ProgressSample is a job's processed-record count at one instant.
type ProgressSample struct {
	Processed int
	At        time.Time
}

// Window keeps the most recent progress samples: at most maxSamples, none
// older than span relative to the newest.
type Window struct {
	mu         sync.Mutex
	samples    []ProgressSample
	maxSamples int
	span       time.Duration
}

// NewWindow creates a Window. Non-positive arguments get defaults of 10 samples and 30s.
func NewWindow(maxSamples int, span time.Duration) *Window {
	if maxSamples < 2 {
		maxSamples = 10
	}
	if span <= 0 {
		span = 30 * time.Second
	}
	return &Window{maxSamples: maxSamples, span: span}
}

// Add records s. A count lower than the previous sample means the job
// restarted, so earlier samples are dropped.
func (w *Window) Add(s ProgressSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.samples); n > 0 && s.Processed < w.samples[n-1].Processed {
		w.samples = w.samples[:0]
	}
	w.samples = append(w.samples, s)
	if over := len(w.samples) - w.maxSamples; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}

	cutoff := s.At.Add(-w.span)
	first := 0
	for first < len(w.samples)-1 && w.samples[first].At.Before(cutoff) {
		first++
	}
	if first > 0 {
		w.samples = append(w.samples[:0], w.samples[first:]...)
	}
}

// Samples returns a copy of the retained samples, oldest first.
func (w *Window) Samples() []ProgressSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ProgressSample(nil), w.samples...)
}

// Rate returns records per second between the oldest and newest sample.
// ok is false with fewer than two samples or no elapsed time.
func (w *Window) Rate() (perSecond float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.samples) < 2 {
		return 0, false
	}
	first, last := w.samples[0], w.samples[len(w.samples)-1]
	elapsed := last.At.Sub(first.At).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	return float64(last.Processed-first.Processed) / elapsed, true
}

// RateAt is Rate, except that ok is false once the newest sample is older
// than the window span at now.
func (w *Window) RateAt(now time.Time) (perSecond float64, ok bool) {
	w.mu.Lock()
	n := len(w.samples)
	stale := n > 0 && now.Sub(w.samples[n-1].At) > w.span
	w.mu.Unlock()
	if stale {
		return 0, false
	}
	return w.Rate()
}

// Progress holds one Window per job.
type Progress struct {
	mu         sync.Mutex
	windows    map[string]*Window
	maxSamples int
	span       time.Duration
}

// NewProgress creates an empty Progress whose windows use the given bounds.
func NewProgress(maxSamples int, span time.Duration) *Progress {
	return &Progress{windows: make(map[string]*Window), maxSamples: maxSamples, span: span}
}

// Record adds a sample for jobID.
func (p *Progress) Record(jobID string, processed int, at time.Time) {
	p.window(jobID).Add(ProgressSample{Processed: processed, At: at})
}

// Reset forgets jobID's samples.
func (p *Progress) Reset(jobID string) {
	p.mu.Lock()
	delete(p.windows, jobID)
	p.mu.Unlock()
}

// Rate returns jobID's current throughput; see Window.Rate.
func (p *Progress) Rate(jobID string) (float64, bool) {
	p.mu.Lock()
	w, ok := p.windows[jobID]
	p.mu.Unlock()
	if !ok {
		return 0, false
	}
	return w.Rate()
}

// RateAt returns jobID's throughput as observed at now; see Window.RateAt.
func (p *Progress) RateAt(jobID string, now time.Time) (float64, bool) {
	p.mu.Lock()
	w, ok := p.windows[jobID]
	p.mu.Unlock()
	if !ok {
		return 0, false
	}
	return w.RateAt(now)
}

func (p *Progress) window(jobID string) *Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[jobID]
	if !ok {
		w = NewWindow(p.maxSamples, p.span)
		p.windows[jobID] = w
	}
	return w
}
