// Package failure defines the error taxonomy shared by the credential paths.
//
// Auth, ChannelUnavailable and CacheMiss describe a missing path. Transport is treated
// the same way when deciding whether to fall back, but is reported separately
// so the two can be told apart in logs. Rejection means the provider accepted
// the credential and refused the content.
package failure

import (
	"errors"
	"net/http"
)

// Class categorizes an error by what it says about the path that produced it.
type Class int

const (
	ClassNone Class = iota
	ClassTransport
	ClassAuth
	ClassRejection
	ClassChannelUnavailable
	ClassCacheMiss
)

var classNames = map[Class]string{
	ClassNone:               "none",
	ClassTransport:          "transport",
	ClassAuth:               "auth",
	ClassRejection:          "provider_rejection",
	ClassChannelUnavailable: "channel_unavailable",
	ClassCacheMiss:          "cache_miss",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the class by name so outcomes serialize readably.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a class name produced by MarshalText.
func (c *Class) UnmarshalText(text []byte) error {
	for class, name := range classNames {
		if name == string(text) {
			*c = class
			return nil
		}
	}
	*c = ClassNone
	return nil
}

// Unavailable reports whether the class means the path itself is missing,
// as opposed to the provider refusing the request content.
func (c Class) Unavailable() bool {
	switch c {
	case ClassTransport, ClassAuth, ClassChannelUnavailable, ClassCacheMiss:
		return true
	default:
		return false
	}
}

// FromStatus classifies a non-2xx HTTP status. 401 is an auth failure; 408,
// 429 and 5xx say nothing about the request content; everything else is a
// rejection of the request itself.
func FromStatus(status int) Class {
	switch {
	case status == http.StatusUnauthorized:
		return ClassAuth
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return ClassTransport
	default:
		return ClassRejection
	}
}

// Classifier is implemented by errors that know their own class.
type Classifier interface {
	FailureClass() Class
}

// Classify returns the class of err. Errors that carry no class of their own,
// or report ClassNone, are classified as transport failures: an unknown failure is never treated
// as a verdict on the content.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var c Classifier
	if errors.As(err, &c) && c.FailureClass() != ClassNone {
		return c.FailureClass()
	}

	// Network errors, timeouts and caller cancellation all land here.
	return ClassTransport
}

// Error attaches a class to an arbitrary error.
type Error struct {
	Class Class
	Err   error
}

// Compile-time check to ensure Error implements Classifier
var _ Classifier = (*Error)(nil)

// New wraps err with the given class.
func New(class Class, err error) *Error {
	return &Error{Class: class, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Class.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// FailureClass implements Classifier.
func (e *Error) FailureClass() Class { return e.Class }
