// Package apperr defines the failure taxonomy shared by the asset and search layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork    = errors.New("network error")
	ErrTimeout    = errors.New("timeout")
	ErrHTTPStatus = errors.New("unexpected http status")
	ErrDecode     = errors.New("decode error")
	ErrIO         = errors.New("io error")
	ErrConfig     = errors.New("config error")
)

// Kind classifies an Error.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindTimeout
	KindHTTPStatus
	KindDecode
	KindIO
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindDecode:
		return "decode"
	case KindIO:
		return "io"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	case KindHTTPStatus:
		return ErrHTTPStatus
	case KindDecode:
		return ErrDecode
	case KindIO:
		return ErrIO
	case KindConfig:
		return ErrConfig
	default:
		return nil
	}
}

// Error is a classified failure. Op names the operation that failed and
// Code carries the HTTP status for KindHTTPStatus.
type Error struct {
	Kind Kind
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Kind == KindHTTPStatus {
		msg = fmt.Sprintf("%s: status %d", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind. A timeout is also a network error.
func (e *Error) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	return e.Kind == KindTimeout && target == ErrNetwork
}

func Network(op string, err error) error { return &Error{Kind: KindNetwork, Op: op, Err: err} }

func Timeout(op string, err error) error { return &Error{Kind: KindTimeout, Op: op, Err: err} }

func HTTPStatus(op string, code int) error { return &Error{Kind: KindHTTPStatus, Op: op, Code: code} }

func Decode(op string, err error) error { return &Error{Kind: KindDecode, Op: op, Err: err} }

func IO(op string, err error) error { return &Error{Kind: KindIO, Op: op, Err: err} }

func Config(op string, err error) error { return &Error{Kind: KindConfig, Op: op, Err: err} }

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Retriable reports whether err is a transport failure worth retrying.
// Status and decode failures never are.
func Retriable(err error) bool {
	k := KindOf(err)
	return k == KindNetwork || k == KindTimeout
}
