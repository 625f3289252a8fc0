package proto

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Wire framing characters.
const (
	fieldDelimiter = '|'
	escapeChar     = '\\'
	newlineEscape  = 'n'

	fieldCount = 5
)

var (
	ErrEmptyMessage  = errors.New("empty message")
	ErrInvalidFormat = errors.New("invalid message format")
	ErrUnknownType   = errors.New("unknown message type")
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,31}$`)

// ValidUsername reports whether name satisfies the username rules:
// 1..31 characters from [A-Za-z0-9_].
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// Escape encodes a field for the wire: '|' -> `\|`, '\' -> `\\`,
// newline -> `\n` (backslash plus the letter n).
func Escape(field string) string {
	var b strings.Builder
	b.Grow(len(field))
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case fieldDelimiter:
			b.WriteByte(escapeChar)
			b.WriteByte(fieldDelimiter)
		case escapeChar:
			b.WriteByte(escapeChar)
			b.WriteByte(escapeChar)
		case '\n':
			b.WriteByte(escapeChar)
			b.WriteByte(newlineEscape)
		default:
			b.WriteByte(field[i])
		}
	}
	return b.String()
}

// Unescape decodes an escaped field. Unknown escape sequences keep the
// backslash and the following character as-is.
func Unescape(field string) string {
	var b strings.Builder
	b.Grow(len(field))
	for i := 0; i < len(field); i++ {
		if field[i] == escapeChar && i+1 < len(field) {
			switch field[i+1] {
			case fieldDelimiter:
				b.WriteByte(fieldDelimiter)
				i++
				continue
			case escapeChar:
				b.WriteByte(escapeChar)
				i++
				continue
			case newlineEscape:
				b.WriteByte('\n')
				i++
				continue
			}
		}
		b.WriteByte(field[i])
	}
	return b.String()
}

// escapedAt reports whether the byte at index i is preceded by an odd
// number of backslashes, i.e. is itself part of an escape sequence.
func escapedAt(s string, i int) bool {
	backslashes := 0
	for k := i - 1; k >= 0 && s[k] == escapeChar; k-- {
		backslashes++
	}
	return backslashes%2 == 1
}

// Validate checks raw framing: length bounds, separator count and
// trailing-backslash integrity. The trailing newline, if present, is
// not counted against the bounds.
func Validate(raw string) bool {
	raw = strings.TrimSuffix(raw, "\n")
	if len(raw) < MinRecordLen || len(raw) > MaxRecordLen {
		return false
	}

	delimiters := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == fieldDelimiter && !escapedAt(raw, i) {
			delimiters++
		}
	}
	// At least four; responses legitimately carry a fifth inside CONTENT.
	if delimiters < fieldCount-1 {
		return false
	}

	if raw[len(raw)-1] == escapeChar && escapedAt(raw, len(raw)) {
		return false
	}
	return true
}

// Parse turns a raw frame into a Record. Only the first four unescaped
// separators split fields; any further unescaped '|' stays inside
// CONTENT. An empty TIMESTAMP is replaced with the current wall clock
// and flagged as synthesized. A fresh monotonic message id is assigned.
func Parse(raw string) (*Record, error) {
	if raw == "" {
		return nil, ErrEmptyMessage
	}
	if !Validate(raw) {
		return nil, ErrInvalidFormat
	}

	body := strings.TrimSuffix(raw, "\n")

	fields := make([]string, 0, fieldCount)
	start := 0
	for i := 0; i < len(body) && len(fields) < fieldCount-1; i++ {
		if body[i] == fieldDelimiter && !escapedAt(body, i) {
			fields = append(fields, body[start:i])
			start = i + 1
		}
	}
	fields = append(fields, body[start:])
	if len(fields) < fieldCount {
		return nil, ErrInvalidFormat
	}

	rec := &Record{
		Type:      Unescape(fields[0]),
		Sender:    Unescape(fields[1]),
		Receiver:  Unescape(fields[2]),
		Timestamp: Unescape(fields[3]),
		Content:   Unescape(fields[4]),
	}

	if rec.Type == "" || !IsKnownType(rec.Type) {
		return nil, ErrUnknownType
	}

	rec.MessageID = nextMessageID()

	if rec.Timestamp == "" {
		rec.Timestamp = Now()
		rec.TimestampSynthesized = true
	}
	return rec, nil
}

// Serialize renders a Record as a newline-terminated frame, escaping
// every field.
func Serialize(rec *Record) string {
	var b strings.Builder
	b.WriteString(Escape(rec.Type))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(rec.Sender))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(rec.Receiver))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(rec.Timestamp))
	b.WriteByte(fieldDelimiter)
	b.WriteString(Escape(rec.Content))
	b.WriteByte('\n')
	return b.String()
}

// Now returns the current wall clock in the wire timestamp format.
func Now() string {
	return time.Now().Format(TimestampLayout)
}
