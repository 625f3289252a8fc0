package proto

import "sync/atomic"

// Message type tags as they appear on the wire.
const (
	TypeLogin     = "LOGIN"
	TypeLogout    = "LOGOUT"
	TypeMsg       = "MSG"
	TypeBroadcast = "BROADCAST"
	TypeGroup     = "GROUP"
	TypeHistory   = "HISTORY"
	TypeStatus    = "STATUS"
	TypeOK        = "OK"
	TypeError     = "ERROR"
)

// Receiver markers.
const (
	ReceiverBroadcast   = "*"
	ReceiverGroupPrefix = "group:"
	ReceiverServer      = "server"
)

// Response codes.
const (
	CodeSuccess      = 0
	CodeAuthFailed   = 1001
	CodeUserNotFound = 1002
	CodeUserOffline  = 1003
	CodeGroupFull    = 1004
	CodeServerError  = 5000
)

// Field limits. Records are capped after escaping.
const (
	MaxUsernameLen  = 31
	MaxGroupNameLen = 31
	MaxContentLen   = 255
	MaxRecordLen    = 1024
	MinRecordLen    = 5
)

// TimestampLayout is the wire format for timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is a parsed frame. Fields hold unescaped values.
type Record struct {
	Type      string
	Sender    string
	Receiver  string
	Timestamp string
	Content   string

	// MessageID is assigned by the parser, monotonic from 100.
	MessageID int64
	Delivered bool
	// TimestampSynthesized is set when the frame carried an empty
	// timestamp and the parser filled in the wall clock.
	TimestampSynthesized bool
}

// Response is a transient server reply before serialization.
type Response struct {
	Code      int
	Type      string
	Message   string
	Timestamp string
}

// OK builds a success response. Code 0 and type OK always go together.
func OK(message string) Response {
	return Response{Code: CodeSuccess, Type: TypeOK, Message: message, Timestamp: Now()}
}

// Error builds an error response with the given code.
func Error(code int, message string) Response {
	if message == "" {
		message = defaultErrorMessage(code)
	}
	return Response{Code: code, Type: TypeError, Message: message, Timestamp: Now()}
}

func defaultErrorMessage(code int) string {
	switch code {
	case CodeAuthFailed:
		return "Authentication failed"
	case CodeUserNotFound:
		return "User not found"
	case CodeUserOffline:
		return "User is offline"
	case CodeGroupFull:
		return "Group is full"
	case CodeServerError:
		return "Server internal error"
	default:
		return "Unknown error"
	}
}

// messageIDCounter starts at 100; the first parsed record gets id 100.
var messageIDCounter atomic.Int64

func init() {
	messageIDCounter.Store(100)
}

func nextMessageID() int64 {
	return messageIDCounter.Add(1) - 1
}

// IsKnownType reports whether the tag belongs to the protocol.
func IsKnownType(t string) bool {
	switch t {
	case TypeLogin, TypeLogout, TypeMsg, TypeBroadcast, TypeGroup,
		TypeHistory, TypeStatus, TypeOK, TypeError:
		return true
	}
	return false
}

// IsBroadcastReceiver reports whether receiver names the broadcast set.
func IsBroadcastReceiver(receiver string) bool {
	return receiver == ReceiverBroadcast
}

// IsGroupReceiver reports whether receiver names a group target.
func IsGroupReceiver(receiver string) bool {
	return len(receiver) >= len(ReceiverGroupPrefix) &&
		receiver[:len(ReceiverGroupPrefix)] == ReceiverGroupPrefix
}

// GroupName extracts the group name from a group receiver, or "".
func GroupName(receiver string) string {
	if !IsGroupReceiver(receiver) {
		return ""
	}
	return receiver[len(ReceiverGroupPrefix):]
}
