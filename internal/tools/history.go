package tools

import (
	"encoding/json"
	"sync"
	"time"
)

// MaxRecordedResult caps the encoded size of a result kept in history.
// Larger results are replaced by a ResultSummary, so history stays bounded
// even when it records reads of itself.
const MaxRecordedResult = 4 << 10

type InvocationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultSummary stands in for a result too large, or not encodable, to keep.
type ResultSummary struct {
	Truncated bool   `json:"truncated"`
	Bytes     int    `json:"bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

func recordedResult(res any) any {
	b, err := json.Marshal(res)
	if err != nil {
		return ResultSummary{Truncated: true, Error: err.Error()}
	}
	if len(b) > MaxRecordedResult {
		return ResultSummary{Truncated: true, Bytes: len(b)}
	}
	return json.RawMessage(b)
}

// Invocation is one diagnostic record. A failed call carries Error in place of
// Result. Result holds the encoded result, or a ResultSummary.
type Invocation struct {
	Subsystem string           `json:"subsystem"`
	Operation string           `json:"operation"`
	Params    Params           `json:"params,omitempty"`
	Result    any              `json:"result,omitempty"`
	Error     *InvocationError `json:"error,omitempty"`
	Duration  time.Duration    `json:"duration_ns"`
	At        time.Time        `json:"at"`
}

type ring struct {
	mu   sync.Mutex
	buf  []Invocation
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Invocation, size)}
}

func (r *ring) push(inv Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = inv
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) last(n int) []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Invocation, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
