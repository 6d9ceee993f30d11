package actions

import "fmt"

// ValidationError reports a missing or malformed required parameter. The
// task fails immediately; no external effect is attempted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// UnknownActionError reports an action tag outside the closed set.
type UnknownActionError struct {
	Tag string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Tag)
}
