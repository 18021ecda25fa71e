package resilience

import (
	"errors"
)

// StatusCoder is implemented by errors that carry a status code assigned by
// the remote server.
type StatusCoder interface {
	StatusCode() int
}

// StatusCode returns the server-assigned status code carried by err or any
// error in its chain.
func StatusCode(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// IsTransient returns true if err is non-nil and carries no server-assigned
// status code. Errors with a status code are rejections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	_, ok := StatusCode(err)
	return !ok
}
