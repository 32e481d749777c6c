package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// RunKeyLayout is the timestamp format of run directory names
const RunKeyLayout = "20060102-150405"

var runKeyRegex = regexp.MustCompile(`^(\d{8}-\d{6})(?:-(\d+))?$`)

// RunKey names a run directory: a start timestamp plus an optional
// collision counter for runs started within the same second
type RunKey struct {
	Time time.Time
	Seq  int
}

// NewRunKey builds the key for a run started at t
func NewRunKey(t time.Time) RunKey {
	return RunKey{Time: t.Truncate(time.Second)}
}

// ParseRunKey parses a string like "20260118-101500" or "20260118-101500-2"
func ParseRunKey(s string) (RunKey, error) {
	matches := runKeyRegex.FindStringSubmatch(s)
	if matches == nil {
		return RunKey{}, fmt.Errorf("invalid run key format: %q (expected YYYYMMDD-HHMMSS[-N])", s)
	}
	ts, err := time.ParseInLocation(RunKeyLayout, matches[1], time.Local)
	if err != nil {
		return RunKey{}, fmt.Errorf("invalid run key timestamp %q: %w", s, err)
	}
	key := RunKey{Time: ts}
	if matches[2] != "" {
		key.Seq, _ = strconv.Atoi(matches[2])
	}
	return key, nil
}

// String returns the canonical directory name
func (k RunKey) String() string {
	base := k.Time.Format(RunKeyLayout)
	if k.Seq > 1 {
		return fmt.Sprintf("%s-%d", base, k.Seq)
	}
	return base
}

// Next returns the key to try when this one is already taken
func (k RunKey) Next() RunKey {
	seq := k.Seq
	if seq < 1 {
		seq = 1
	}
	return RunKey{Time: k.Time, Seq: seq + 1}
}
