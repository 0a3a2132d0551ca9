package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Op names a remote mutation for error reporting.
type Op string

const (
	OpApprove        Op = "approve"
	OpRequestChanges Op = "request-changes"
	OpMerge          Op = "merge"
	OpToggleDraft    Op = "toggle-draft"
	OpAddLabels      Op = "add-labels"
	OpRemoveLabels   Op = "remove-labels"
	OpCloseIssues    Op = "close-issues"
	OpReopenIssues   Op = "reopen-issues"
)

// Error is a failed remote call. Status is 0 when the call never produced an
// HTTP response (network failure, missing binary, timeout).
type Error struct {
	Method  string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Method, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Method, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Method, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// IsNotFound reports a 404 anywhere in err's chain.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports a 401 anywhere in err's chain.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

var opNoun = map[Op]string{
	OpApprove:        "approve this pull request",
	OpRequestChanges: "request changes on this pull request",
	OpMerge:          "merge this pull request",
	OpToggleDraft:    "change the draft state",
	OpAddLabels:      "add labels",
	OpRemoveLabels:   "remove labels",
	OpCloseIssues:    "close these issues",
	OpReopenIssues:   "reopen these issues",
}

// HumanMessage turns a failed mutation into a one-line message for the user.
func HumanMessage(op Op, err error) string {
	if err == nil {
		return ""
	}
	what := opNoun[op]
	if what == "" {
		what = string(op)
	}

	var re *Error
	if !errors.As(err, &re) {
		return fmt.Sprintf("could not %s: %v", what, err)
	}

	switch status := re.Status; {
	case status == 0:
		return fmt.Sprintf("could not reach the server to %s", what)
	case status == http.StatusUnauthorized:
		return "your session has expired; sign in again"
	case status == http.StatusForbidden:
		return fmt.Sprintf("you do not have permission to %s", what)
	case status == http.StatusNotFound:
		return "not found; it may have been deleted or you lost access"
	case status == http.StatusConflict && op == OpMerge:
		return "the head branch was modified; refresh and try again"
	case status == http.StatusMethodNotAllowed && op == OpMerge:
		return "pull request is not mergeable"
	case status == http.StatusUnprocessableEntity:
		switch op {
		case OpApprove, OpRequestChanges:
			return "pull request was already reviewed or cannot be reviewed"
		case OpMerge:
			return "pull request cannot be merged"
		case OpToggleDraft:
			return "draft state cannot be changed for this pull request"
		case OpAddLabels, OpRemoveLabels:
			return "one or more labels are invalid"
		}
	case status >= 500:
		return "the server is having trouble; try again later"
	}
	if re.Message != "" {
		return fmt.Sprintf("could not %s: %s", what, re.Message)
	}
	return fmt.Sprintf("could not %s (HTTP %d)", what, re.Status)
}
