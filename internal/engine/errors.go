package engine

import (
	"errors"
	"fmt"

	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/trello"
)

// errNoInboxList reports a governing board without the inbox list new parent
// cards are created in.
var errNoInboxList = errors.New("governing board has no inbox list")

// Category classifies a reconciliation failure so tests and operators can
// distinguish failure modes instead of reading log lines.
type Category int

const (
	// CategoryRemoteUnavailable covers vanished or access-revoked remote
	// resources and transport failures. Always a best-effort no-op for the
	// affected sub-step.
	CategoryRemoteUnavailable Category = iota + 1
	// CategoryStaleState covers cached mapping rows disagreeing with observed
	// remote state.
	CategoryStaleState
	// CategoryInvariant covers programming errors that should surface to
	// operators.
	CategoryInvariant
)

func (c Category) String() string {
	switch c {
	case CategoryRemoteUnavailable:
		return "remote_unavailable"
	case CategoryStaleState:
		return "stale_state"
	case CategoryInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a categorized reconciliation failure.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// remoteError wraps a remote-call failure.
func remoteError(op string, err error) *Error {
	return &Error{Category: CategoryRemoteUnavailable, Op: op, Err: err}
}

// isNotFound reports whether a remote call failed because the resource is
// gone. Deletes swallow these.
func isNotFound(err error) bool {
	return errors.Is(err, trello.ErrNotFound) || errors.Is(err, gitlab.ErrNotFound)
}

// Result collects the non-fatal failures a handler recorded while
// continuing best-effort. Handlers only return a Go error for invariant
// violations or local persistence failures.
type Result struct {
	Errors []*Error
}

// Categories returns the category of every recorded failure, in order.
func (r *Result) Categories() []Category {
	cats := make([]Category, 0, len(r.Errors))
	for _, e := range r.Errors {
		cats = append(cats, e.Category)
	}
	return cats
}

// Failed reports whether any sub-step failed.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}
