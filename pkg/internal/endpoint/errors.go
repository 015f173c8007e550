package endpoint

import (
	"errors"
	"strings"
)

// RemoteError is a rejection the backend expressed through an error body.
// Status carries the transport code, but classification happens on the
// message content: the backend signals expiry and missing-call conditions
// with a fixed vocabulary regardless of status code.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsExpiry reports whether the error means the session or subscription is
// gone on the backend side, which ends the call authoritatively.
func (e *RemoteError) IsExpiry() bool {
	return strings.Contains(e.Message, "expired") ||
		strings.Contains(e.Message, "No active call")
}

// IsExpiry unwraps err and checks the remote expiry vocabulary.
func IsExpiry(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.IsExpiry()
}

// AsRemote unwraps err into a RemoteError when the backend produced it.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
