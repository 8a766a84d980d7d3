package casjobs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotLoggedIn is returned before any network call when no token is available.
var ErrNotLoggedIn = errors.New("user token is not defined: first log into SciServer")

// HTTPError reports a non-200 response. Body is the raw response text.
type HTTPError struct {
	Message    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s Http Response from CasJobs API returned status code %d:\n %s", e.Message, e.StatusCode, e.Body)
}

// FormatError names an output format that is not recognised.
type FormatError struct {
	Value string
}

func (e *FormatError) Error() string {
	return "Error when executing query. Illegal format parameter specification: " + e.Value
}

// SchemaMismatchError is returned when batch results cannot be combined into one table.
type SchemaMismatchError struct {
	Query int
	Want  []string
	Got   []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("cannot combine batch results: query %d has columns [%s], expected [%s]",
		e.Query, strings.Join(e.Got, ", "), strings.Join(e.Want, ", "))
}
