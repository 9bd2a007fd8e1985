package session

// Phase is the coarse lifecycle position of a Session.
type Phase uint8

const (
	Anonymous Phase = iota
	Authenticating
	Authenticated
	Refreshing
)

func (p Phase) String() string {
	switch p {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is an immutable snapshot of a Session. User is non-nil exactly when
// Phase is Authenticated or Refreshing.
type State struct {
	Phase Phase  `json:"phase"`
	User  *User  `json:"user"`
	Error string `json:"error,omitempty"`
}

// Authenticated reports whether the snapshot carries a user.
func (s State) Authenticated() bool {
	return s.User != nil && (s.Phase == Authenticated || s.Phase == Refreshing)
}

// Role returns the user's role, or "" when anonymous.
func (s State) Role() Role {
	if !s.Authenticated() {
		return ""
	}
	return s.User.Role
}

// Failed reports whether the snapshot carries an error annotation.
func (s State) Failed() bool {
	return s.Error != ""
}
