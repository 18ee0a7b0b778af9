package index

import (
	"fmt"
	"strings"
	"time"

	"eventdir/internal/model"
)

// identityLayout sorts lexicographically in chronological order.
const identityLayout = "2006.01.02-15:04"

// Identity is the sortable token of one occurrence: its UTC start
// truncated to the minute, followed by the owning event id.
type Identity string

// IdentityOf returns the identity of o.
func IdentityOf(o model.Occurrence) Identity {
	return MakeIdentity(o.Start, o.EventID())
}

// MakeIdentity builds the identity for an occurrence of id starting at start.
func MakeIdentity(start time.Time, id string) Identity {
	return Identity(start.UTC().Truncate(time.Minute).Format(identityLayout) + ";" + id)
}

// Parse splits an identity into its start and event id.
func (i Identity) Parse() (time.Time, string, error) {
	stamp, id, ok := strings.Cut(string(i), ";")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("index: malformed identity %q", string(i))
	}
	start, err := time.Parse(identityLayout, stamp)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("index: malformed identity %q: %w", string(i), err)
	}
	return start, id, nil
}

// Date returns the "2006-01-02" day of the identity.
func (i Identity) Date() string {
	s := string(i)
	if len(s) < 10 {
		return ""
	}
	return strings.ReplaceAll(s[:10], ".", "-")
}

// EventID returns the event id part of the identity.
func (i Identity) EventID() string {
	_, id, _ := strings.Cut(string(i), ";")
	return id
}

// lowerBound is the smallest identity at or after t.
func lowerBound(t time.Time) Identity {
	return Identity(t.UTC().Truncate(time.Minute).Format(identityLayout))
}

// upperBound sorts after every identity whose minute is at or before t.
func upperBound(t time.Time) Identity {
	return Identity(t.UTC().Truncate(time.Minute).Format(identityLayout) + ";\xff")
}
