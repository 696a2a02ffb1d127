// Package classify decides whether an error is worth retrying.
package classify

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/KOMKZ/go-yogan-accountsync/errcode"
	"github.com/KOMKZ/go-yogan-accountsync/errdef"
)

// Kind names an error category.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindOwnershipMismatch Kind = "ownership_mismatch"
	KindDecodeFailure     Kind = "decode_failure"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindCircuitOpen       Kind = "circuit_open"
	KindTimeout           Kind = "timeout"
	KindTransport         Kind = "transport"
	KindValidation        Kind = "validation"
	KindCanceled          Kind = "canceled"
	KindClosed            Kind = "closed"
	KindUnknown           Kind = "unknown"
)

// Classification is the classifier verdict.
type Classification struct {
	Kind      Kind
	Retryable bool
}

// Classifier maps an error to a Classification.
type Classifier interface {
	Classify(err error) Classification
}

// Func adapts a function to Classifier.
type Func func(err error) Classification

func (f Func) Classify(err error) Classification { return f(err) }

var defaultRules = map[int]Classification{
	errdef.ErrNotFound.Code():          {KindNotFound, false},
	errdef.ErrOwnershipMismatch.Code(): {KindOwnershipMismatch, false},
	errdef.ErrDecodeFailure.Code():     {KindDecodeFailure, false},
	errdef.ErrCapacityExceeded.Code():  {KindCapacityExceeded, false},
	errdef.ErrCircuitOpen.Code():       {KindCircuitOpen, true},
	errdef.ErrTimeout.Code():           {KindTimeout, true},
	errdef.ErrTransport.Code():         {KindTransport, true},
	errdef.ErrInvalidArgument.Code():   {KindValidation, false},
	errdef.ErrClosed.Code():            {KindClosed, false},
}

// CodeClassifier classifies by errcode first, then by well-known
// standard errors, then falls back to a configurable default.
type CodeClassifier struct {
	rules    map[int]Classification
	fallback Classification
}

// Option customises a CodeClassifier.
type Option func(*CodeClassifier)

// WithRule classifies every LayeredError carrying code.
func WithRule(code int, c Classification) Option {
	return func(cc *CodeClassifier) { cc.rules[code] = c }
}

// WithFallback sets the verdict for errors nothing else recognises.
// The default treats them as retryable unknowns.
func WithFallback(c Classification) Option {
	return func(cc *CodeClassifier) { cc.fallback = c }
}

// New returns a classifier seeded with the errdef taxonomy.
func New(opts ...Option) *CodeClassifier {
	cc := &CodeClassifier{
		rules:    make(map[int]Classification, len(defaultRules)),
		fallback: Classification{KindUnknown, true},
	}
	for code, c := range defaultRules {
		cc.rules[code] = c
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// Default is a ready-to-use classifier with no extra rules.
func Default() Classifier {
	return New()
}

// Classify walks the error chain looking for a known code before falling
// back to context and network heuristics.
func (cc *CodeClassifier) Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		if le, ok := e.(*errcode.LayeredError); ok {
			if c, found := cc.rules[le.Code()]; found {
				return c
			}
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Classification{KindCanceled, false}
	case errors.Is(err, context.DeadlineExceeded):
		return Classification{KindTimeout, true}
	case isTransient(err):
		return Classification{KindTransport, true}
	}
	return cc.fallback
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE)
}

// rank orders kinds from least to most specific for error reporting.
func rank(k Kind) int {
	switch k {
	case KindNotFound, KindOwnershipMismatch, KindDecodeFailure, KindValidation, KindCapacityExceeded, KindClosed:
		return 4
	case KindCircuitOpen:
		return 3
	case KindTimeout:
		return 2
	case KindTransport:
		return 1
	default:
		return 0
	}
}

// MostSpecific picks the error to surface from a sequence of attempt
// errors: domain errors beat circuit-open, which beats timeouts, which beat
// transport errors. Ties go to the later error.
func MostSpecific(c Classifier, errs []error) error {
	var best error
	bestRank := -1
	for _, err := range errs {
		if err == nil {
			continue
		}
		if r := rank(c.Classify(err).Kind); r >= bestRank {
			best, bestRank = err, r
		}
	}
	return best
}
