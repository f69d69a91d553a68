package reconcile

import "context"

// Outcome summarizes what a handler did with an event.
type Outcome string

const (
	// OutcomeApplied means user state changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the event was valid but already applied or not
	// actionable yet, e.g. a first failed payment attempt.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeUnresolved means no user could be linked to the event.
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeIgnored means the event type is not handled.
	OutcomeIgnored Outcome = "ignored"
)

// Result is returned by Dispatch. Follow-up actions in it must run only
// after the surrounding transaction has committed.
type Result struct {
	Outcome Outcome
	after   []func(context.Context)
}

// newResult creates a Result with no follow-up actions.
func newResult(o Outcome) *Result {
	return &Result{Outcome: o}
}

// then queues fn to run after commit, in registration order.
func (r *Result) then(fn func(context.Context)) {
	r.after = append(r.after, fn)
}

// AfterCommit runs the follow-up actions, e.g. notification emails. It is
// safe to call on a nil Result. Calling it before the transaction commits
// can notify users about changes that are later rolled back.
func (r *Result) AfterCommit(ctx context.Context) {
	if r == nil {
		return
	}
	for _, fn := range r.after {
		fn(ctx)
	}
}
