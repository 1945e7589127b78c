// Package kerrors provides Kestrel's error taxonomy: a small set of
// categories used to decide whether a failure is fatal to the engine,
// routable as "predicate returned false", or silently evictable, plus a
// bounded ring buffer of recent error records for diagnostics.
//
// Grounded on the teacher's errors package
// (github.com/randalmurphal/flowgraph, pkg/flowgraph/errors/category.go):
// the Category/Categorize/CategorizedError shape is kept, but the category
// set is Kestrel's own (spec.md §7) rather than the teacher's
// retry-and-escalate set, which has no analogue in a detection pipeline.
package kerrors

import (
	"errors"
	"fmt"
)

// Category classifies an error by how the orchestrator must respond to it.
type Category int

const (
	// CategorySchema covers field/event-type registration conflicts and
	// unknown-field lookups. Never fatal; returned to the caller.
	CategorySchema Category = iota

	// CategoryBus covers event-bus publish failures: Full (retryable) or
	// Closed (terminal for that publisher).
	CategoryBus

	// CategoryRuntime covers predicate evaluation failures: Trap,
	// ResourceExhausted, Timeout, LoadFailed. Routed as "predicate
	// returned false" for that event; never fatal.
	CategoryRuntime

	// CategoryNFA covers sequence engine failures: QuotaExceeded (silent
	// eviction) or InvalidSequence (load-time only).
	CategoryNFA

	// CategoryOrchestrator covers rule management failures: RuleNotFound,
	// RuleAlreadyExists.
	CategoryOrchestrator

	// CategoryFatal covers conditions that abort the engine: bus
	// initialization failure, unrecoverable replay-log corruption.
	CategoryFatal
)

func (c Category) String() string {
	switch c {
	case CategorySchema:
		return "schema"
	case CategoryBus:
		return "bus"
	case CategoryRuntime:
		return "runtime"
	case CategoryNFA:
		return "nfa"
	case CategoryOrchestrator:
		return "orchestrator"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsFatal reports whether an error of this category must abort the engine
// rather than being logged-and-continued.
func (c Category) IsFatal() bool {
	return c == CategoryFatal
}

// CategorizedError wraps an underlying error with its category, the
// subsystem reason code, and free-form context describing the operation
// being attempted when it occurred.
type CategorizedError struct {
	Err      error
	Category Category
	Reason   string
	Context  string
}

func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s [%s/%s]", e.Context, e.Err, e.Category, e.Reason)
	}
	return fmt.Sprintf("%s [%s/%s]", e.Err, e.Category, e.Reason)
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// New builds a CategorizedError.
func New(err error, category Category, reason, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Reason: reason, Context: context}
}

// Categorize determines the category of an arbitrary error, defaulting to
// CategoryFatal (fail safe) for anything it doesn't recognize.
func Categorize(err error) Category {
	if err == nil {
		return CategoryFatal
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	return CategoryFatal
}
