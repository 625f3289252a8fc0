package core

import (
	"errors"

	"github.com/vovakirdan/pipechat-server/internal/proto"
)

var (
	ErrUnknownHandle = errors.New("unknown connection handle")
	ErrUsernameBound = errors.New("username already bound to another connection")
)

// Error carries the protocol response code alongside a human message.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func coreError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func authError(msg string) *Error {
	return coreError(proto.CodeAuthFailed, msg)
}

func serverError(msg string) *Error {
	return coreError(proto.CodeServerError, msg)
}
