package valorant

import (
	"errors"
	"fmt"
)

// ErrBadHandle is returned for a player handle that is not "name#tag".
var ErrBadHandle = errors.New("valorant: handle must be name#tag")

// StatsFetchError reports a transport or authorization failure of the match-history API.
// A match that does not contain the player is never a StatsFetchError.
type StatsFetchError struct {
	Handle string
	Status int
	Err    error
}

func (e *StatsFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("valorant stats %s: status %d", e.Handle, e.Status)
	}
	return fmt.Sprintf("valorant stats %s: %v", e.Handle, e.Err)
}

func (e *StatsFetchError) Unwrap() error { return e.Err }

// Unauthorized reports whether the API rejected the key.
func (e *StatsFetchError) Unauthorized() bool { return e.Status == 401 || e.Status == 403 }
