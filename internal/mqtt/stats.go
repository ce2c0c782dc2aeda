package mqtt

import (
	"sync"
	"time"
)

// DailyStats accumulates conversation counters that reset at local
// midnight. It is safe for concurrent use.
type DailyStats struct {
	mu           sync.Mutex
	turns        int64
	toolCalls    int64
	inputTokens  int64
	outputTokens int64
	lastTurn     time.Time
	resetDay     int // day-of-year of last reset
	loc          *time.Location
	now          func() time.Time
}

// StatsSnapshot is a point-in-time copy of [DailyStats].
type StatsSnapshot struct {
	Turns        int64
	ToolCalls    int64
	InputTokens  int64
	OutputTokens int64
	LastTurn     time.Time
}

// NewDailyStats creates an accumulator using loc for midnight
// detection. A nil loc means [time.Local].
func NewDailyStats(loc *time.Location) *DailyStats {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyStats{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Add records one finished turn.
func (d *DailyStats) Add(toolCalls, inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.turns++
	d.toolCalls += int64(toolCalls)
	d.inputTokens += int64(inputTokens)
	d.outputTokens += int64(outputTokens)
	d.lastTurn = d.now()
}

// Snapshot returns the current totals after checking for rollover.
func (d *DailyStats) Snapshot() StatsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return StatsSnapshot{
		Turns:        d.turns,
		ToolCalls:    d.toolCalls,
		InputTokens:  d.inputTokens,
		OutputTokens: d.outputTokens,
		LastTurn:     d.lastTurn,
	}
}

// maybeReset must be called with d.mu held. lastTurn survives the reset.
func (d *DailyStats) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.turns = 0
		d.toolCalls = 0
		d.inputTokens = 0
		d.outputTokens = 0
		d.resetDay = today
	}
}
