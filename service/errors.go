package service

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCallback is returned when a callback has no Body.stkCallback.
var ErrInvalidCallback = errors.New("invalid callback data")

// ProviderError is a non-2xx answer from an upstream provider. Body holds the
// raw response so it can be relayed to the caller.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Body       []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Provider, e.Operation, e.StatusCode)
}

// Detail returns the upstream body decoded as JSON, the raw text when it is
// not JSON, or nil when the body was empty.
func (e *ProviderError) Detail() any {
	if len(e.Body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(e.Body, &v); err != nil {
		return string(e.Body)
	}
	return v
}

// ProviderDetail digs a *ProviderError out of err and returns its Detail.
func ProviderDetail(err error) any {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Detail()
	}
	return nil
}
