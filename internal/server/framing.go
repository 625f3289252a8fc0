package server

import (
	"bufio"
)

// maxBufferedFrame bounds how many bytes may accumulate without an
// unescaped newline before the connection is treated as violating the
// protocol. It is deliberately far above the record cap so that an
// oversized-but-terminated record is always yielded as one token and
// rejected at the codec boundary with an error reply, independent of
// how the bytes were fragmented across reads.
const maxBufferedFrame = 64 * 1024

// ScanFrames is a bufio.SplitFunc that yields one wire frame per
// token, terminator included. Only an unescaped newline ends a frame;
// a `\n` escape sequence (backslash plus the letter n) inside a field
// never splits. TCP fragmentation and coalescence are both handled by
// the scanner's buffering; length limits are the codec's concern.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	backslashes := 0
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\\':
			backslashes++
		case '\n':
			if backslashes%2 == 0 {
				return i + 1, data[:i+1], nil
			}
			backslashes = 0
		default:
			backslashes = 0
		}
	}

	if atEOF && len(data) > 0 {
		// Trailing bytes without a terminator are not a frame.
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// NewFrameScanner wraps r in a scanner configured for the wire
// protocol. A stream exceeding maxBufferedFrame without a terminator
// stops the scanner with bufio.ErrTooLong.
func NewFrameScanner(r *bufio.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxBufferedFrame)
	sc.Split(ScanFrames)
	return sc
}
