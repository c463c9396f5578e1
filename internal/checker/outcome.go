package checker

import (
	"time"

	"restock/internal/product"
)

// Outcome is the terminal state of one product within a run.
type Outcome int

const (
	Unsupported Outcome = iota
	FetchFailed
	NotInStock
	AlreadyNotified
	Notified
	SendFailed
	StoreFailed
	Misconfigured
	MarkFailed
	Cancelled
	Panicked
)

var outcomeNames = [...]string{
	Unsupported:     "unsupported",
	FetchFailed:     "fetch_failed",
	NotInStock:      "not_in_stock",
	AlreadyNotified: "already_notified",
	Notified:        "notified",
	SendFailed:      "send_failed",
	StoreFailed:     "store_failed",
	Misconfigured:   "misconfigured",
	MarkFailed:      "mark_failed",
	Cancelled:       "cancelled",
	Panicked:        "panicked",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Result is the outcome for one product. Err is nil for NotInStock,
// AlreadyNotified and Notified.
type Result struct {
	Product product.Product `json:"-"`
	Outcome Outcome         `json:"outcome"`
	Err     error           `json:"-"`
}

// Summary collects every product's Result for one run, in input order.
type Summary struct {
	RunID   string    `json:"run_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Results []Result  `json:"-"`
}

// Counts tallies results per outcome.
func (s Summary) Counts() map[Outcome]int {
	out := make(map[Outcome]int, len(outcomeNames))
	for _, r := range s.Results {
		out[r.Outcome]++
	}
	return out
}

// Count returns how many products ended in o.
func (s Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

func (s Summary) Duration() time.Duration { return s.End.Sub(s.Start) }
