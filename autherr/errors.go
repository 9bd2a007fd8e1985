package autherr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure for callers that branch on it.
type Kind uint8

const (
	// Unknown is the zero Kind; it never matches a sentinel.
	Unknown Kind = iota
	InvalidCredentials
	ValidationError
	NetworkError
	Unauthorized
	RefreshFailed
	SessionExpired
	ServerError
)

var kindNames = [...]string{
	Unknown:            "unknown",
	InvalidCredentials: "invalid credentials",
	ValidationError:    "validation error",
	NetworkError:       "network error",
	Unauthorized:       "unauthorized",
	RefreshFailed:      "refresh failed",
	SessionExpired:     "session expired",
	ServerError:        "server error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + fmt.Sprint(uint8(k)) + ")"
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrInvalidCredentials = errors.New(InvalidCredentials.String())
	ErrValidation         = errors.New(ValidationError.String())
	ErrNetwork            = errors.New(NetworkError.String())
	ErrUnauthorized       = errors.New(Unauthorized.String())
	ErrRefreshFailed      = errors.New(RefreshFailed.String())
	ErrSessionExpired     = errors.New(SessionExpired.String())
	ErrServer             = errors.New(ServerError.String())
)

func sentinel(k Kind) error {
	switch k {
	case InvalidCredentials:
		return ErrInvalidCredentials
	case ValidationError:
		return ErrValidation
	case NetworkError:
		return ErrNetwork
	case Unauthorized:
		return ErrUnauthorized
	case RefreshFailed:
		return ErrRefreshFailed
	case SessionExpired:
		return ErrSessionExpired
	case ServerError:
		return ErrServer
	}
	return nil
}

// Error is the typed failure returned across goSession boundaries.
//
// Message is human readable and safe to show to the user. Fields carries
// field-level messages for ValidationError. Err is the underlying cause,
// if any, and is reachable through errors.Is / errors.As.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Fields  map[string]string
	Err     error
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind carrying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel of e's Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	s := sentinel(e.Kind)
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// MessageOf returns a user-facing message for err. Typed errors yield their
// Message; anything else yields fallback.
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
