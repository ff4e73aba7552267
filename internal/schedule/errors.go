package schedule

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalid is matched (errors.Is) by every *ValidationError.
var ErrInvalid = errors.New("invalid entity")

// ValidationError collects every violated constraint of an entity, keyed by
// field path ("activities[0].ref", "cronTrigger", "Schedule" for cross-field rules).
type ValidationError struct {
	Entity string
	fields map[string][]string
}

// NewValidationError returns an empty error set for the named entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity, fields: map[string][]string{}}
}

// Add records a message for field.
func (e *ValidationError) Add(field, msg string) {
	if e.fields == nil {
		e.fields = map[string][]string{}
	}
	e.fields[field] = append(e.fields[field], msg)
}

// Merge copies other's messages into e, prefixing every field path.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	if other == nil {
		return
	}
	for field, msgs := range other.fields {
		for _, m := range msgs {
			e.Add(prefix+field, m)
		}
	}
}

func (e *ValidationError) Len() int {
	if e == nil {
		return 0
	}
	return len(e.fields)
}

// Fields returns the failing field paths, sorted.
func (e *ValidationError) Fields() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.fields))
	for f := range e.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (e *ValidationError) Messages(field string) []string {
	if e == nil {
		return nil
	}
	return e.fields[field]
}

func (e *ValidationError) Has(field string) bool { return len(e.Messages(field)) > 0 }

// Map returns a copy of the field -> messages set.
func (e *ValidationError) Map() map[string][]string {
	out := make(map[string][]string, e.Len())
	for _, f := range e.Fields() {
		out[f] = append([]string(nil), e.fields[f]...)
	}
	return out
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	entity := e.Entity
	if entity == "" {
		entity = "entity"
	}
	b.WriteString(entity)
	b.WriteString(" is invalid: ")
	for i, f := range e.Fields() {
		for j, m := range e.fields[f] {
			if i > 0 || j > 0 {
				b.WriteString("; ")
			}
			b.WriteString(f)
			b.WriteString(": ")
			b.WriteString(m)
		}
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// OrNil returns e as an error, or nil when nothing was recorded.
func (e *ValidationError) OrNil() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}
