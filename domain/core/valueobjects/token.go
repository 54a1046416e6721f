package valueobjects

import (
	"fmt"
	"strconv"
	"time"
)

// Token is a monotonic timestamp identifier: YYYYMMDDTHHMMSS.mmmZ-NNNNNN.
// Tokens are fixed width, so lexicographic order equals chronological order.
type Token string

const (
	tokenTimeLayout = "20060102T150405.000"
	tokenTimeWidth  = len(tokenTimeLayout) + 1 // trailing Z
	tokenSeqWidth   = 6
	tokenWidth      = tokenTimeWidth + 1 + tokenSeqWidth

	// MaxTokenSequence is the largest suffix before the token advances by one millisecond.
	MaxTokenSequence = 999999
)

// FormatToken builds the token for a UTC millisecond and a tie-breaking sequence.
func FormatToken(t time.Time, seq int) Token {
	ms := t.UTC().Truncate(time.Millisecond)
	return Token(fmt.Sprintf("%sZ-%06d", ms.Format(tokenTimeLayout), seq))
}

// ParseToken splits a token into its timestamp and sequence.
func ParseToken(s string) (time.Time, int, error) {
	if len(s) != tokenWidth || s[tokenTimeWidth-1] != 'Z' || s[tokenTimeWidth] != '-' {
		return time.Time{}, 0, fmt.Errorf("malformed token %q", s)
	}
	t, err := time.ParseInLocation(tokenTimeLayout, s[:tokenTimeWidth-1], time.UTC)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed token %q: %w", s, err)
	}
	seq, err := strconv.Atoi(s[tokenTimeWidth+1:])
	if err != nil || seq < 0 {
		return time.Time{}, 0, fmt.Errorf("malformed token sequence %q", s)
	}
	return t, seq, nil
}

// NextToken returns the token following last at wall-clock time now.
// The result is strictly greater than last even when the clock stalls or goes backwards.
func NextToken(last Token, now time.Time) (Token, error) {
	now = now.UTC().Truncate(time.Millisecond)
	if last == "" {
		return FormatToken(now, 0), nil
	}
	lastTime, lastSeq, err := ParseToken(string(last))
	if err != nil {
		return "", err
	}
	switch {
	case now.After(lastTime):
		return FormatToken(now, 0), nil
	case lastSeq < MaxTokenSequence:
		return FormatToken(lastTime, lastSeq+1), nil
	default:
		return FormatToken(lastTime.Add(time.Millisecond), 0), nil
	}
}

// Time returns the millisecond encoded in the token.
func (t Token) Time() time.Time {
	ts, _, err := ParseToken(string(t))
	if err != nil {
		return time.Time{}
	}
	return ts
}

// String returns the token text.
func (t Token) String() string {
	return string(t)
}

// Valid reports whether the token is well formed.
func (t Token) Valid() bool {
	_, _, err := ParseToken(string(t))
	return err == nil
}
