package utils

import "errors"

// ErrKind classifies failures for propagation policy
type ErrKind int

const (
	// KindValidation - malformed or missing required input
	KindValidation ErrKind = iota + 1
	// KindAuthentication - invalid or missing credential
	KindAuthentication
	// KindNotFound - no job matches a correlation key
	KindNotFound
	// KindUpstream - non success response from transcription or analysis provider
	KindUpstream
	// KindTimeout - bounded wait exceeded
	KindTimeout
	// KindParse - malformed JSON from the analysis response
	KindParse
	// KindPersistence - durable store write failed after all retries
	KindPersistence
)

var kindName = map[ErrKind]string{KindValidation: "validation error", KindAuthentication: "authentication error",
	KindNotFound: "not found", KindUpstream: "upstream error", KindTimeout: "timeout",
	KindParse: "parse error", KindPersistence: "persistence error"}

func (k ErrKind) String() string {
	return kindName[k]
}

// ErrTyped wraps an error with its kind
type ErrTyped struct {
	Kind ErrKind
	err  error
}

func newErr(k ErrKind, err error) error {
	if err == nil {
		err = errors.New("unknown")
	}
	return &ErrTyped{Kind: k, err: err}
}

// NewValidationErr creates new validation error
func NewValidationErr(err error) error { return newErr(KindValidation, err) }

// NewAuthenticationErr creates new authentication error
func NewAuthenticationErr(err error) error { return newErr(KindAuthentication, err) }

// NewNotFoundErr creates new not found error
func NewNotFoundErr(err error) error { return newErr(KindNotFound, err) }

// NewUpstreamErr creates new upstream error
func NewUpstreamErr(err error) error { return newErr(KindUpstream, err) }

// NewTimeoutErr creates new timeout error
func NewTimeoutErr(err error) error { return newErr(KindTimeout, err) }

// NewParseErr creates new parse error
func NewParseErr(err error) error { return newErr(KindParse, err) }

// NewPersistenceErr creates new persistence error
func NewPersistenceErr(err error) error { return newErr(KindPersistence, err) }

func (e *ErrTyped) Error() string {
	return e.Kind.String() + ": " + e.err.Error()
}

func (e *ErrTyped) Unwrap() error {
	return e.err
}

// KindOf returns the kind of the first typed error in chain, 0 if none
func KindOf(err error) ErrKind {
	var te *ErrTyped
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsValidation checks validation error
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuthentication checks authentication error
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }

// IsNotFound checks not found error
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsUpstream checks upstream error
func IsUpstream(err error) bool { return KindOf(err) == KindUpstream }

// IsTimeout checks timeout error
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsPersistence checks persistence error
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }

type errFinal struct {
	err error
}

func (e *errFinal) Error() string { return e.err.Error() }

func (e *errFinal) Unwrap() error { return e.err }

// NewFinalErr marks err as not retriable by the queue whatever its kind is.
// Used when a redelivered message can not redo the work anymore
func NewFinalErr(err error) error {
	if err == nil {
		err = errors.New("unknown")
	}
	return &errFinal{err: err}
}

// IsPermanent returns true if retrying can not help
func IsPermanent(err error) bool {
	var fe *errFinal
	if errors.As(err, &fe) {
		return true
	}
	switch KindOf(err) {
	case KindValidation, KindAuthentication, KindNotFound, KindTimeout:
		return true
	}
	return false
}
