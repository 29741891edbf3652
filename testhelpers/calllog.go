// Package testhelpers provides in-memory fakes for the repository and the
// GitLab backend, sharing a call log so tests can assert on the ordering of
// mutations across both.
package testhelpers

import "fmt"

// CallLog records mutating operations in the order they happened. Reads are
// not recorded; ordering assertions only care about mutations.
type CallLog struct {
	Calls []string
}

func (l *CallLog) record(format string, args ...interface{}) {
	l.Calls = append(l.Calls, fmt.Sprintf(format, args...))
}

// Reset clears the log, typically between the runs of an idempotence test.
func (l *CallLog) Reset() {
	l.Calls = nil
}
