package sevenzip

import (
	"sync"
	"time"
)

// IEC byte units used by [ProgressState.FormatRate].
const (
	BytesKiB uint64 = 1024
	BytesMiB        = 1024 * BytesKiB
	BytesGiB        = 1024 * BytesMiB
)

// ProgressReporter receives callbacks during extraction or recovery.
// Implementations embedding [NoProgress] get no-op defaults for any
// method they don't care about. [Reader.Extract] decodes folders
// concurrently, so every method must be safe for concurrent calls.
type ProgressReporter interface {
	// OnTotal is called once, before work begins, with the total bytes
	// to be processed.
	OnTotal(totalBytes uint64)

	// OnProgress is called periodically. Returning false requests
	// cancellation of the operation.
	OnProgress(bytesProcessed, totalBytes uint64) bool

	// OnRatio reports a compression ratio sample.
	OnRatio(inputBytes, outputBytes uint64)

	// OnEntryStart is called when a new entry begins processing.
	OnEntryStart(entryName string, size uint64)

	// OnEntryComplete is called when an entry finishes, successfully or
	// not.
	OnEntryComplete(entryName string, success bool)

	// OnPasswordNeeded is called when a password is required. Returning
	// ok=false aborts the operation.
	OnPasswordNeeded() (password string, ok bool)

	// OnWarning reports a non-fatal problem.
	OnWarning(message string)

	// ShouldCancel is polled before each entry to allow early
	// termination without waiting for the next OnProgress call.
	ShouldCancel() bool
}

// NoProgress is a [ProgressReporter] that does nothing. Embed it to get
// default no-op implementations of every method.
type NoProgress struct{}

func (NoProgress) OnTotal(uint64)                         {}
func (NoProgress) OnProgress(uint64, uint64) bool         { return true }
func (NoProgress) OnRatio(uint64, uint64)                 {}
func (NoProgress) OnEntryStart(string, uint64)            {}
func (NoProgress) OnEntryComplete(string, bool)           {}
func (NoProgress) OnPasswordNeeded() (string, bool)       { return "", false }
func (NoProgress) OnWarning(string)                       {}
func (NoProgress) ShouldCancel() bool                     { return false }

// ProgressState is timing- and rate-aware progress bookkeeping, shared by
// [StatisticsProgress] and available standalone for callers building a
// custom reporter.
type ProgressState struct {
	TotalBytes      uint64
	ProcessedBytes  uint64
	PackedBytes     uint64
	CurrentEntry    string
	EntriesProcessed int
	EntriesTotal    int
	StartTime       time.Time
	LastUpdate      time.Time
}

// NewProgressState returns a state with StartTime and LastUpdate set to
// now.
func NewProgressState() *ProgressState {
	now := time.Now()

	return &ProgressState{StartTime: now, LastUpdate: now}
}

// Percentage returns completion in the range [0, 100].
func (s *ProgressState) Percentage() float64 {
	if s.TotalBytes == 0 {
		return 0
	}

	return float64(s.ProcessedBytes) / float64(s.TotalBytes) * 100
}

// CompressionRatio returns PackedBytes/ProcessedBytes, or 1 when nothing
// has been processed yet.
func (s *ProgressState) CompressionRatio() float64 {
	if s.ProcessedBytes == 0 {
		return 1
	}

	return float64(s.PackedBytes) / float64(s.ProcessedBytes)
}

// Elapsed returns the time since StartTime.
func (s *ProgressState) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

// BytesPerSecond returns the average processing rate so far.
func (s *ProgressState) BytesPerSecond() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed < 0.001 {
		return 0
	}

	return float64(s.ProcessedBytes) / elapsed
}

// ETA estimates the remaining duration, or false if the rate is too low
// or processing has already completed.
func (s *ProgressState) ETA() (time.Duration, bool) {
	rate := s.BytesPerSecond()
	if rate < 1 || s.ProcessedBytes >= s.TotalBytes {
		return 0, false
	}

	remaining := float64(s.TotalBytes - s.ProcessedBytes)

	return time.Duration(remaining / rate * float64(time.Second)), true
}

// StatisticsProgress is a [ProgressReporter] that simply records state,
// useful as a base for UI layers or for tests asserting on final
// counters.
type StatisticsProgress struct {
	mu        sync.Mutex
	State     *ProgressState
	Cancelled bool
	Warnings  []string
}

// NewStatisticsProgress returns an initialised reporter.
func NewStatisticsProgress() *StatisticsProgress {
	return &StatisticsProgress{State: NewProgressState()}
}

func (p *StatisticsProgress) OnTotal(totalBytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.State.TotalBytes = totalBytes
}

func (p *StatisticsProgress) OnProgress(bytesProcessed, _ uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.State.ProcessedBytes = bytesProcessed
	p.State.LastUpdate = time.Now()

	return !p.Cancelled
}

func (p *StatisticsProgress) OnRatio(_, outputBytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.State.PackedBytes = outputBytes
}

func (p *StatisticsProgress) OnEntryStart(entryName string, _ uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.State.CurrentEntry = entryName
}

func (p *StatisticsProgress) OnEntryComplete(string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.State.EntriesProcessed++
	p.State.CurrentEntry = ""
}

func (p *StatisticsProgress) OnPasswordNeeded() (string, bool) { return "", false }

func (p *StatisticsProgress) OnWarning(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Warnings = append(p.Warnings, message)
}

func (p *StatisticsProgress) ShouldCancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Cancelled
}

// ThrottledProgress wraps a [ProgressReporter] and rate-limits
// OnProgress calls, passing every other callback straight through.
type ThrottledProgress struct {
	mu          sync.Mutex
	inner       ProgressReporter
	minInterval time.Duration
	lastCall    time.Time
}

// NewThrottledProgress wraps inner, forwarding at most one OnProgress
// call per minInterval (plus always the final, completing call).
func NewThrottledProgress(inner ProgressReporter, minInterval time.Duration) *ThrottledProgress {
	return &ThrottledProgress{inner: inner, minInterval: minInterval, lastCall: time.Now()}
}

// NewThrottledProgressDefault wraps inner with a 100ms throttle.
func NewThrottledProgressDefault(inner ProgressReporter) *ThrottledProgress {
	return NewThrottledProgress(inner, 100*time.Millisecond)
}

func (t *ThrottledProgress) OnTotal(totalBytes uint64) { t.inner.OnTotal(totalBytes) }

func (t *ThrottledProgress) OnProgress(bytesProcessed, totalBytes uint64) bool {
	t.mu.Lock()
	now := time.Now()
	forward := bytesProcessed >= totalBytes || now.Sub(t.lastCall) >= t.minInterval

	if forward {
		t.lastCall = now
	}
	t.mu.Unlock()

	if forward {
		return t.inner.OnProgress(bytesProcessed, totalBytes)
	}

	return true
}

func (t *ThrottledProgress) OnRatio(inputBytes, outputBytes uint64) {
	t.inner.OnRatio(inputBytes, outputBytes)
}

func (t *ThrottledProgress) OnEntryStart(entryName string, size uint64) {
	t.inner.OnEntryStart(entryName, size)
}

func (t *ThrottledProgress) OnEntryComplete(entryName string, success bool) {
	t.inner.OnEntryComplete(entryName, success)
}

func (t *ThrottledProgress) OnPasswordNeeded() (string, bool) { return t.inner.OnPasswordNeeded() }

func (t *ThrottledProgress) OnWarning(message string) { t.inner.OnWarning(message) }

func (t *ThrottledProgress) ShouldCancel() bool { return t.inner.ShouldCancel() }
