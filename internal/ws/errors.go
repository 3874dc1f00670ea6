package ws

import (
	"errors"
	"fmt"
)

// 按请求的错误只回报给发起连接，不会影响房间内其他连接。
var (
	ErrNotJoined        = errors.New("not joined to a room")
	ErrIdentityMismatch = errors.New("user id does not match authenticated identity")
	ErrNotFound         = errors.New("not found")

	ErrPersonaNotFound = &notFoundError{what: "persona"}
	ErrRoomNotFound    = &notFoundError{what: "room"}
	ErrUserNotFound    = &notFoundError{what: "user"}
)

type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return e.what + " not found" }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// ProtocolError 表示无法解析或不合法的入站帧。
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func protocolError(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError 包装存储层失败。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// clientMessage 把内部错误映射为发给客户端的提示文本，不暴露存储细节。
func clientMessage(err error) string {
	var perr *ProtocolError
	var nerr *notFoundError
	var serr *PersistenceError
	switch {
	case errors.As(err, &perr):
		return perr.Reason
	case errors.Is(err, ErrNotJoined):
		return "You must join a room first"
	case errors.Is(err, ErrIdentityMismatch):
		return "User id does not match your session"
	case errors.As(err, &nerr):
		return nerr.Error()
	case errors.As(err, &serr):
		return "Failed to " + serr.Op
	default:
		return "Internal error"
	}
}
