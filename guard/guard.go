package guard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Requirement is the access metadata attached to a destination.
type Requirement struct {
	RequiresAuth            bool   `yaml:"requiresAuth" json:"requiresAuth,omitempty"`
	RequiresGuest           bool   `yaml:"requiresGuest" json:"requiresGuest,omitempty"`
	RequiresRole            string `yaml:"requiresRole" json:"requiresRole,omitempty"`
	RedirectIfAuthenticated string `yaml:"redirectIfAuthenticated" json:"redirectIfAuthenticated,omitempty"`
}

// Validate rejects contradictory or unusable metadata.
func (r Requirement) Validate() error {
	if r.RequiresGuest && r.RequiresAuth {
		return errors.New("guard: requiresGuest and requiresAuth are mutually exclusive")
	}
	switch r.RequiresRole {
	case "", RoleAdmin, RoleUser:
	default:
		return fmt.Errorf("guard: unknown role %q", r.RequiresRole)
	}
	if r.RedirectIfAuthenticated != "" && !strings.HasPrefix(r.RedirectIfAuthenticated, "/") {
		return fmt.Errorf("guard: redirectIfAuthenticated %q must be an absolute path", r.RedirectIfAuthenticated)
	}
	return nil
}

// FromMeta reads route metadata as supplied by a presentation layer. The
// legacy requiresAdmin/requiresUser flags map onto RequiresRole; an explicit
// requiresRole wins over them.
func FromMeta(meta map[string]any) Requirement {
	var r Requirement
	r.RequiresAuth = flag(meta["requiresAuth"])
	r.RequiresGuest = flag(meta["requiresGuest"])
	if s, ok := meta["redirectIfAuthenticated"].(string); ok {
		r.RedirectIfAuthenticated = s
	}
	switch {
	case stringOf(meta["requiresRole"]) != "":
		r.RequiresRole = stringOf(meta["requiresRole"])
	case flag(meta["requiresAdmin"]):
		r.RequiresRole = RoleAdmin
	case flag(meta["requiresUser"]):
		r.RequiresRole = RoleUser
	}
	return r
}

func flag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// View is the slice of session state a decision reads.
type View struct {
	Authenticated bool
	Role          string
}

// Decision is the outcome of Decide. Redirect is set iff Allow is false.
type Decision struct {
	Allow    bool
	Redirect string
}

// Paths are the fixed destinations redirects point at.
type Paths struct {
	Login string `yaml:"login" env:"GOSESSION_ROUTES_LOGIN" env-default:"/login"`
	Home  string `yaml:"home" env:"GOSESSION_ROUTES_HOME" env-default:"/"`
	Admin string `yaml:"admin" env:"GOSESSION_ROUTES_ADMIN" env-default:"/admin"`
	User  string `yaml:"user" env:"GOSESSION_ROUTES_USER" env-default:"/dashboard"`
}

// DefaultPaths returns the stock landing pages.
func DefaultPaths() Paths {
	return Paths{Login: "/login", Home: "/", Admin: "/admin", User: "/dashboard"}
}

// Decide evaluates req against v using DefaultPaths.
func Decide(req Requirement, v View, target string) Decision {
	return DefaultPaths().Decide(req, v, target)
}

// Decide evaluates req against v. target is the originally requested path and
// becomes the login return target.
func (p Paths) Decide(req Requirement, v View, target string) Decision {
	if req.RequiresGuest && v.Authenticated {
		if req.RedirectIfAuthenticated != "" {
			return redirect(req.RedirectIfAuthenticated)
		}
		return redirect(p.Landing(v.Role))
	}
	if req.RequiresAuth && !v.Authenticated {
		return redirect(p.LoginRedirect(target))
	}
	if req.RequiresRole != "" {
		if !v.Authenticated {
			return redirect(p.LoginRedirect(target))
		}
		if v.Role != req.RequiresRole {
			return redirect(p.Landing(v.Role))
		}
	}
	return Decision{Allow: true}
}

// Landing is the default page for role.
func (p Paths) Landing(role string) string {
	switch role {
	case RoleAdmin:
		return p.Admin
	case RoleUser:
		return p.User
	}
	return p.Home
}

// LoginRedirect is the login page carrying target as the return path. The
// query is omitted for the root path.
func (p Paths) LoginRedirect(target string) string {
	if target == "" || target == "/" {
		return p.Login
	}
	return p.Login + "?redirect=" + url.QueryEscape(target)
}

func redirect(path string) Decision {
	return Decision{Redirect: path}
}
