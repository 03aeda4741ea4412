// Package change compares a subscriber's stored status with a freshly
// observed one.
package change

import (
	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
)

// Change is the outcome of one comparison. When Changed is false only
// NewStatus and NewClass are meaningful.
type Change struct {
	Identity string
	Changed  bool

	OldStatus string
	NewStatus string
	OldClass  submissions.Class
	NewClass  submissions.Class
	OldDesc   string
	NewDesc   string
}

// HasOld reports whether a prior status was known.
func (c Change) HasOld() bool { return c.OldStatus != "" }

// Detect compares raw status strings. It performs no I/O.
func Detect(sub subscribers.Record, current string) Change {
	c := Change{
		Identity:  sub.Identity,
		NewStatus: current,
		NewClass:  submissions.Classify(current),
		NewDesc:   submissions.Describe(current),
	}
	if sub.LastStatus == current {
		return c
	}
	c.Changed = true
	c.OldStatus = sub.LastStatus
	if c.OldStatus != "" {
		c.OldClass = submissions.Classify(sub.LastStatus)
		c.OldDesc = submissions.Describe(sub.LastStatus)
	}
	return c
}
