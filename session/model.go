package session

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
)

// Role is the coarse role the auth service assigns to a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// UserID accepts both string and numeric ids on the wire.
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = UserID(n.String())
	return nil
}

// Int returns the numeric form of the id, if it has one.
func (id UserID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// User is the authenticated principal as reported by the auth service.
// Users are replaced wholesale and never mutated after construction.
type User struct {
	ID        UserID `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
	LastLogin string `json:"last_login,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Credentials is the login request body.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me,omitempty"`
}

// Registration is the register request body.
type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password,omitempty"`
	Phone           string `json:"phone,omitempty"`
}

// LoginResult is a successful login response.
type LoginResult struct {
	Message      string
	AccessToken  string
	RefreshToken string
	User         User
}

// RefreshResult is a successful refresh response. RefreshToken is set only
// when the server rotated it; User only when the server returned one.
type RefreshResult struct {
	Message      string
	AccessToken  string
	RefreshToken string
	User         *User
}

// RegistrationResult reports the outcome of a registration. It never carries
// a session.
type RegistrationResult struct {
	Success bool
	Message string
	Fields  map[string]string
}

// Remote is the auth service as seen by a Session.
//
// Me returns (nil, nil) when the service answers without a user.
type Remote interface {
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	Register(ctx context.Context, reg Registration) (*RegistrationResult, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (*User, error)
}
