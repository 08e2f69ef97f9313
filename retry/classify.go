package retry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

type Class int

const (
	ClassTransient Class = iota
	ClassAuth
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassTerminal:
		return "terminal"
	default:
		return "transient"
	}
}

// ErrUnauthorized marks failures caused by a missing or expired credential.
var ErrUnauthorized = errors.New("unauthorized")

// rpcAuthErrorCode is returned by the privileged RPC proxy for expired sessions.
const rpcAuthErrorCode = -32090

type terminalError struct {
	err error
}

func (e *terminalError) Error() string {
	return e.err.Error()
}

func (e *terminalError) Unwrap() error {
	return e.err
}

// Terminal marks err as a logic failure that retrying can't fix.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err}
}

func Classify(err error) Class {
	var terminal *terminalError
	if errors.As(err, &terminal) {
		return ClassTerminal
	}
	if IsAuthError(err) {
		return ClassAuth
	}
	return ClassTransient
}

func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcAuthErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unauthorized")
}
