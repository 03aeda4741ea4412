package submissions

import (
	"strings"
	"unicode"
)

// Class is the derived classification of a raw status code.
type Class int

const (
	ClassUnknown Class = iota
	ClassDenied
	ClassPending
	ClassApproved
)

// Classify derives the class from the single-digit status code that
// prefixes raw: "0" denied, "1" pending, "2" approved. Longer codes such as
// "10–..." and anything else are unknown.
func Classify(raw string) Class {
	raw = strings.TrimSpace(raw)
	if raw == "" || (len(raw) > 1 && isDigit(raw[1])) {
		return ClassUnknown
	}
	switch raw[0] {
	case '0':
		return ClassDenied
	case '1':
		return ClassPending
	case '2':
		return ClassApproved
	default:
		return ClassUnknown
	}
}

func isDigit(b byte) bool { return '0' <= b && b <= '9' }

func (c Class) String() string {
	switch c {
	case ClassDenied:
		return "denied"
	case ClassPending:
		return "pending"
	case ClassApproved:
		return "approved"
	default:
		return "unknown"
	}
}

func (c Class) Label() string {
	switch c {
	case ClassDenied:
		return "Denied"
	case ClassPending:
		return "Pending"
	case ClassApproved:
		return "Approved"
	default:
		return "Unknown"
	}
}

func (c Class) Emoji() string {
	switch c {
	case ClassDenied:
		return "❌"
	case ClassPending:
		return "⏳"
	case ClassApproved:
		return "✅"
	default:
		return "❔"
	}
}

func (c Class) Description() string {
	switch c {
	case ClassDenied:
		return "Your submission was not approved."
	case ClassPending:
		return "Your submission is waiting for review."
	case ClassApproved:
		return "Your submission has been approved."
	default:
		return "The status of your submission is not recognized."
	}
}

// Describe returns the human part of a raw status ("1–Submitted" -> "Submitted").
// Codes without a text part fall back to the class description.
func Describe(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ClassUnknown.Description()
	}
	rest := strings.TrimLeftFunc(raw, unicode.IsDigit)
	if rest == raw {
		return raw
	}
	rest = strings.TrimLeftFunc(rest, func(r rune) bool {
		return r == '–' || r == '—' || r == '-' || r == ':' || unicode.IsSpace(r)
	})
	if rest == "" {
		return Classify(raw).Description()
	}
	return rest
}
