package supervisor

// DefaultMaxRestarts is the automatic restart allowance between two successful starts.
const DefaultMaxRestarts = 3

// RetryBudget bounds automatic restarts. Count is cleared on every transition to
// running and on every manual start.
type RetryBudget struct {
	Count int
	Max   int
}

// NewRetryBudget returns an empty budget allowing max automatic restarts.
func NewRetryBudget(max int) RetryBudget {
	if max < 0 {
		max = 0
	}
	return RetryBudget{Max: max}
}

// Reset clears the consumed attempts.
func (b *RetryBudget) Reset() {
	b.Count = 0
}

// Allow reports whether another automatic restart may be scheduled.
func (b *RetryBudget) Allow() bool {
	return b.Count < b.Max
}

// Consume records one automatic restart and returns its 1-based attempt number.
// It returns false once the budget is exhausted.
func (b *RetryBudget) Consume() (int, bool) {
	if !b.Allow() {
		return b.Count, false
	}
	b.Count++
	return b.Count, true
}
