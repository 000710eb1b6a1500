package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DomainBudget Domain = "budget"
	DomainHealth Domain = "health"
)

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

// DateLayout is the ISO calendar date format used by both backends.
const DateLayout = "2006-01-02"

type (
	// Domain names one of the two backends and the data family it serves.
	Domain string

	// Frequency is the recurrence of a budget amount. Values outside the
	// known set are kept verbatim.
	Frequency string
)

var (
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidDuration  = errors.New("invalid duration")
)

// String implements fmt.Stringer
func (d Domain) String() string {
	return string(d)
}

// IsValid returns true if the domain is one of the known backends
func (d Domain) IsValid() bool {
	switch d {
	case DomainBudget, DomainHealth:
		return true
	default:
		return false
	}
}

// Domains returns every known domain in a stable order.
func Domains() []Domain {
	return []Domain{DomainBudget, DomainHealth}
}

// ParseDomain parses a domain name case-insensitively.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("unknown domain %q: must be one of %v", s, Domains())
	}
	return d, nil
}

// Normalize lowercases and trims the frequency.
func (f Frequency) Normalize() Frequency {
	return Frequency(strings.ToLower(strings.TrimSpace(string(f))))
}

// IsKnown reports whether the frequency is one of the documented values.
func (f Frequency) IsKnown() bool {
	switch f.Normalize() {
	case Daily, Weekly, Biweekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// IsPersisted reports whether id carries a server-assigned identifier.
func IsPersisted(id *int64) bool {
	return id != nil && *id > 0
}

// ID returns a pointer to id, for building persisted entities.
func ID(id int64) *int64 {
	return &id
}

// Today returns the local calendar date of t in DateLayout.
func Today(t time.Time) string {
	return t.Local().Format(DateLayout)
}

func validateDate(s string) error {
	if _, err := time.Parse(DateLayout, strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return nil
}
