package scraper

import "sync"

// Tier selects the fetch engine.
type Tier int

const (
	TierLight Tier = iota
	TierHeavy
)

func (t Tier) String() string {
	if t == TierHeavy {
		return "heavy"
	}
	return "light"
}

// Transition is what the escalator decided after an event.
type Transition int

const (
	Stay Transition = iota
	// Promote switches to the heavy engine and keeps the frontier.
	Promote
	// PromoteAndRestart switches to the heavy engine and re-runs the seeds with
	// the identity sets cleared.
	PromoteAndRestart
)

// Escalator is the light to heavy state machine. There is no way back to light.
type Escalator struct {
	mu        sync.Mutex
	tier      Tier
	failures  int
	threshold int
	escalated bool
	restarted bool
}

// NewEscalator starts in tier. A threshold below 1 is treated as 1.
func NewEscalator(start Tier, threshold int) *Escalator {
	if threshold < 1 {
		threshold = 1
	}
	return &Escalator{tier: start, threshold: threshold}
}

// Tier returns the active tier.
func (e *Escalator) Tier() Tier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tier
}

// RecordExtraction feeds the outcome of one page extracted on tier. Empty pages
// on the light tier count toward the threshold; a non-empty page resets it.
func (e *Escalator) RecordExtraction(tier Tier, empty bool) Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !empty {
		e.failures = 0
		return Stay
	}
	if tier != TierLight || e.tier != TierLight {
		return Stay
	}
	e.failures++
	if e.failures < e.threshold {
		return Stay
	}
	e.tier = TierHeavy
	e.escalated = true
	e.failures = 0
	return Promote
}

// CompleteRun is called when a pass over the frontier ends. A light pass that
// saved nothing restarts under the heavy engine.
func (e *Escalator) CompleteRun(saved int) Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tier != TierLight || saved > 0 {
		return Stay
	}
	e.tier = TierHeavy
	e.escalated = true
	e.restarted = true
	e.failures = 0
	return PromoteAndRestart
}

// ConsecutiveFailures returns the current empty-page streak.
func (e *Escalator) ConsecutiveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// Escalated reports whether the heavy tier was reached through escalation.
func (e *Escalator) Escalated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escalated
}

// Restarted reports whether a restart happened.
func (e *Escalator) Restarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restarted
}
