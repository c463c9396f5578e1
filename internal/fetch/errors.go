package fetch

import (
	"errors"
	"fmt"
)

// ErrFetchFailed matches every fetch failure: transport errors and non-2xx responses.
var ErrFetchFailed = errors.New("fetch failed")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool { return target == ErrFetchFailed }
