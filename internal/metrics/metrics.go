// Package metrics provides lightweight, lock-free counters for tracking
// what a single openfd run did: console traffic, bytes staged for the
// board, and how long each step took.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one run.
type Collector struct {
	commandsSent atomic.Int64
	bytesIn      atomic.Int64
	bytesOut     atomic.Int64
	bytesStaged  atomic.Int64
	errorsTotal  atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	steps        []StepTiming
	lastError    time.Time
	lastErrorMsg string
}

// StepTiming is the wall-clock duration of one orchestrator step.
type StepTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed,omitempty"`
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Console metrics ──────────────────────────────────────────────────

// CommandSent counts one monitor command.
func (c *Collector) CommandSent() {
	if c == nil {
		return
	}
	c.commandsSent.Add(1)
}

// Commands returns the number of monitor commands sent.
func (c *Collector) Commands() int64 {
	if c == nil {
		return 0
	}
	return c.commandsSent.Load()
}

// BytesReceived records n bytes read from the console.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the console.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total console bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total console bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Image metrics ────────────────────────────────────────────────────

// BytesStaged records an image of n bytes handed to the TFTP server.
func (c *Collector) BytesStaged(n int64) {
	if c == nil {
		return
	}
	c.bytesStaged.Add(n)
}

// TotalBytesStaged returns the bytes staged for transfer.
func (c *Collector) TotalBytesStaged() int64 {
	if c == nil {
		return 0
	}
	return c.bytesStaged.Load()
}

// ── Steps ────────────────────────────────────────────────────────────

// RecordStep appends the timing of a finished step.
func (c *Collector) RecordStep(name string, d time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.steps = append(c.steps, StepTiming{Name: name, Duration: d, Failed: failed})
	c.mu.Unlock()
}

// Steps returns the recorded steps in execution order.
func (c *Collector) Steps() []StepTiming {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]StepTiming(nil), c.steps...)
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Elapsed          string       `json:"elapsed"`
	CommandsSent     int64        `json:"commands_sent"`
	BytesIn          int64        `json:"bytes_in"`
	BytesOut         int64        `json:"bytes_out"`
	BytesStaged      int64        `json:"bytes_staged"`
	ErrorsTotal      int64        `json:"errors_total"`
	Steps            []StepTiming `json:"steps,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
	LastErrorMessage string       `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Elapsed:      time.Since(c.startTime).Truncate(time.Millisecond).String(),
		CommandsSent: c.commandsSent.Load(),
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		BytesStaged:  c.bytesStaged.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		Steps:        append([]StepTiming(nil), c.steps...),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
