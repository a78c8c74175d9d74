package domain

import "fmt"

// InvalidInputError reports malformed or missing caller input. The offending
// field is always named so the HTTP layer can surface it verbatim.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e InvalidInputError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError reports an absent dataset, user, team, or grant.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// AccessDeniedError reports a permission ordinal below the requirement or a
// missing relationship between the requester and the target.
type AccessDeniedError struct {
	Reason string
}

func (e AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return "access denied: " + e.Reason
}

// UpstreamFailureError reports a terminal failure of the external analysis
// engine: timeout, non-success status, or a malformed response body.
type UpstreamFailureError struct {
	Op  string
	Err error
}

func (e UpstreamFailureError) Error() string {
	return fmt.Sprintf("analysis engine %s: %v", e.Op, e.Err)
}

func (e UpstreamFailureError) Unwrap() error { return e.Err }
