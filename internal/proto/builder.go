package proto

import (
	"errors"
	"fmt"
)

// Builders produce wire-ready frames. Request builders are what an
// interactive client sends; response and notification builders are
// server-side.

var (
	ErrBadUsername    = errors.New("invalid username")
	ErrContentTooLong = errors.New("content too long")
	ErrBadResponse    = errors.New("invalid response type")
)

// BuildLogin builds LOGIN|username|server|ts|credential.
func BuildLogin(username, credential string) (string, error) {
	if !ValidUsername(username) {
		return "", ErrBadUsername
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s\n",
		TypeLogin, username, ReceiverServer, Now(), Escape(credential)), nil
}

// BuildLogout builds LOGOUT|username|server|ts|.
func BuildLogout(username string) (string, error) {
	if !ValidUsername(username) {
		return "", ErrBadUsername
	}
	return fmt.Sprintf("%s|%s|%s|%s|\n",
		TypeLogout, username, ReceiverServer, Now()), nil
}

// BuildText builds a direct message MSG|sender|receiver|ts|content.
func BuildText(sender, receiver, content string) (string, error) {
	if !ValidUsername(sender) {
		return "", ErrBadUsername
	}
	if len(content) > MaxContentLen {
		return "", ErrContentTooLong
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s\n",
		TypeMsg, sender, receiver, Now(), Escape(content)), nil
}

// BuildBroadcast builds BROADCAST|sender|*|ts|content.
func BuildBroadcast(sender, content string) (string, error) {
	if !ValidUsername(sender) {
		return "", ErrBadUsername
	}
	if len(content) > MaxContentLen {
		return "", ErrContentTooLong
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s\n",
		TypeBroadcast, sender, ReceiverBroadcast, Now(), Escape(content)), nil
}

// BuildGroup builds GROUP|sender|group:name|ts|content.
func BuildGroup(sender, groupName, content string) (string, error) {
	if !ValidUsername(sender) {
		return "", ErrBadUsername
	}
	if len(content) > MaxContentLen {
		return "", ErrContentTooLong
	}
	return fmt.Sprintf("%s|%s|%s%s|%s|%s\n",
		TypeGroup, sender, ReceiverGroupPrefix, groupName, Now(), Escape(content)), nil
}

// BuildHistoryRequest packs target and time bounds into CONTENT,
// pipe-separated: HISTORY|username|server|ts|target|from|to.
func BuildHistoryRequest(username, target, from, to string) (string, error) {
	if !ValidUsername(username) {
		return "", ErrBadUsername
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s\n",
		TypeHistory, username, ReceiverServer, Now(), target, from, to), nil
}

// BuildStatusRequest builds STATUS|username|server|ts|.
func BuildStatusRequest(username string) (string, error) {
	if !ValidUsername(username) {
		return "", ErrBadUsername
	}
	return fmt.Sprintf("%s|%s|%s|%s|\n",
		TypeStatus, username, ReceiverServer, Now()), nil
}

// BuildResponse builds OK|server|client|ts|code|message or its ERROR
// twin. The '|' between code and message is deliberately unescaped;
// the parser folds it back into CONTENT.
func BuildResponse(code int, kind, message string) (string, error) {
	if kind != TypeOK && kind != TypeError {
		return "", ErrBadResponse
	}
	return fmt.Sprintf("%s|%s|client|%s|%d|%s\n",
		kind, ReceiverServer, Now(), code, Escape(message)), nil
}

// BuildResponseFrom serializes a Response struct, deriving the type
// tag from the code when unset.
func BuildResponseFrom(resp Response) (string, error) {
	kind := resp.Type
	if kind == "" {
		if resp.Code == CodeSuccess {
			kind = TypeOK
		} else {
			kind = TypeError
		}
	}
	return BuildResponse(resp.Code, kind, resp.Message)
}

// BuildUserOnline builds the presence broadcast sent after a login:
// BROADCAST|server|*|ts|username is now online.
func BuildUserOnline(username string) (string, error) {
	if !ValidUsername(username) {
		return "", ErrBadUsername
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s is now online\n",
		TypeBroadcast, ReceiverServer, ReceiverBroadcast, Now(), username), nil
}

// BuildUserOffline builds the presence broadcast sent after a logout.
func BuildUserOffline(username string) (string, error) {
	if !ValidUsername(username) {
		return "", ErrBadUsername
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s is now offline\n",
		TypeBroadcast, ReceiverServer, ReceiverBroadcast, Now(), username), nil
}

// BuildSystemNotification builds a server-originated broadcast with
// arbitrary content.
func BuildSystemNotification(content string) (string, error) {
	if len(content) > MaxContentLen {
		return "", ErrContentTooLong
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s\n",
		TypeBroadcast, ReceiverServer, ReceiverBroadcast, Now(), Escape(content)), nil
}
