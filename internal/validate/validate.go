// Package validate collects field-level violations for request payloads.
package validate

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Violation is a single field problem reported back to the client.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries every violation found in one payload.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Collector accumulates violations. The zero value is ready to use.
type Collector struct {
	violations []Violation
}

// Add records a violation unconditionally.
func (c *Collector) Add(field, message string) {
	c.violations = append(c.violations, Violation{Field: field, Message: message})
}

// Check records a violation when ok is false.
func (c *Collector) Check(ok bool, field, message string) {
	if !ok {
		c.Add(field, message)
	}
}

// Required flags blank strings.
func (c *Collector) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		c.Add(field, "is required")
		return false
	}
	return true
}

// MinLen flags strings shorter than n runes.
func (c *Collector) MinLen(field, value string, n int) {
	if utf8.RuneCountInString(value) < n {
		c.Add(field, "must be at least "+strconv.Itoa(n)+" characters")
	}
}

// MaxLen flags strings longer than n runes.
func (c *Collector) MaxLen(field, value string, n int) {
	if utf8.RuneCountInString(value) > n {
		c.Add(field, "must be at most "+strconv.Itoa(n)+" characters")
	}
}

// Email flags malformed addresses. Empty values are skipped.
func (c *Collector) Email(field, value string) {
	if value == "" {
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		c.Add(field, "must be a valid email address")
	}
}

// OneOf flags values outside the allowed set. Empty values are skipped.
func (c *Collector) OneOf(field, value string, allowed ...string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	c.Add(field, "must be one of: "+strings.Join(allowed, ", "))
}

// Err returns nil when nothing was collected.
func (c *Collector) Err() error {
	if len(c.violations) == 0 {
		return nil
	}
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return &Error{Violations: out}
}
