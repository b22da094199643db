package eval

import "fmt"

// ParseError reports a tokenizer failure or a structurally invalid wd:
// subtree (a missing end tag, a malformed update/search body).
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error: %s", e.Msg) }

// ScriptError wraps a script-engine evaluation or module-load failure,
// carrying which dialect raised it.
type ScriptError struct {
	Dialect string
	Err     error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script error (%s): %v", e.Dialect, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// IncludeError reports that an include adaptor returned bytes which then
// failed evaluation, or that the adaptor itself returned an error. A miss
// (no bytes found) is never this error.
type IncludeError struct {
	Src string
	Err error
}

func (e *IncludeError) Error() string {
	return fmt.Sprintf("include error (%s): %v", e.Src, e.Err)
}

func (e *IncludeError) Unwrap() error { return e.Err }

// StoreError wraps any record-store rejection of a query or update that is
// not itself a DependError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store error (%s): %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// DependError reports an invalid depend: a zero row, or a session-local row
// with no matching overlay entry.
type DependError struct {
	Err error
}

func (e *DependError) Error() string { return fmt.Sprintf("depend error: %v", e.Err) }

func (e *DependError) Unwrap() error { return e.Err }
