package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zephyrtronium/warden/throttle"
)

// Kind is a kind of middleware.
type Kind int

const (
	_ Kind = iota
	// KindThrottle limits invocations within a sliding window.
	KindThrottle
	// KindRequire requires permission nodes of both the user and the bot.
	KindRequire
	// KindIsBotAdmin requires the user to be a bot admin.
	KindIsBotAdmin
	// KindHasRole requires the user to hold one of a set of roles.
	KindHasRole
)

var kindNames = map[string]Kind{
	"throttle":   KindThrottle,
	"require":    KindRequire,
	"isBotAdmin": KindIsBotAdmin,
	"hasRole":    KindHasRole,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Spec is a parsed middleware declaration.
type Spec struct {
	Kind Kind
	// Scopes are the throttle scopes. All must allow an invocation.
	Scopes []throttle.Scope
	// Limit and Window are the throttle rate.
	Limit  int
	Window time.Duration
	// Nodes are the permission nodes for require.
	Nodes []string
	// Roles are the role names or IDs for hasRole.
	Roles []string
	// Source is the text the spec was parsed from.
	Source string
}

func (s Spec) String() string {
	return s.Source
}

// ParseSpec parses a middleware declaration of the form
// name[.scope[.scope]][:arg1,arg2,...].
//
// throttle takes a limit and a window in seconds and defaults to the user
// scope. require takes permission nodes and hasRole takes role names.
// isBotAdmin takes nothing.
func ParseSpec(s string) (Spec, error) {
	sp := Spec{Source: s}
	head, args, hasArgs := strings.Cut(s, ":")
	name, scopes, _ := strings.Cut(head, ".")
	k, ok := kindNames[name]
	if !ok {
		return Spec{}, specError(s, "unknown middleware %q", name)
	}
	sp.Kind = k
	var argv []string
	if hasArgs {
		argv = strings.Split(args, ",")
		for i, a := range argv {
			argv[i] = strings.TrimSpace(a)
			if argv[i] == "" {
				return Spec{}, specError(s, "empty argument")
			}
		}
	}
	if scopes != "" && k != KindThrottle {
		return Spec{}, specError(s, "%s takes no scope", name)
	}
	switch k {
	case KindThrottle:
		sp.Scopes = []throttle.Scope{throttle.User}
		if scopes != "" {
			sp.Scopes = sp.Scopes[:0]
			for _, v := range strings.Split(scopes, ".") {
				sc, err := throttle.ParseScope(v)
				if err != nil {
					return Spec{}, specError(s, "%v", err)
				}
				for _, have := range sp.Scopes {
					if have == sc {
						return Spec{}, specError(s, "duplicate scope %q", v)
					}
				}
				sp.Scopes = append(sp.Scopes, sc)
			}
		}
		if len(argv) != 2 {
			return Spec{}, specError(s, "throttle needs a limit and a window")
		}
		n, err := strconv.Atoi(argv[0])
		if err != nil || n < 1 {
			return Spec{}, specError(s, "limit %q is not a positive integer", argv[0])
		}
		w, err := strconv.ParseFloat(argv[1], 64)
		if err != nil || !(w > 0) || w > math.MaxInt64/float64(time.Second) {
			return Spec{}, specError(s, "window %q is not a positive number of seconds", argv[1])
		}
		sp.Limit = n
		sp.Window = time.Duration(w * float64(time.Second))
	case KindRequire:
		if len(argv) == 0 {
			return Spec{}, specError(s, "require needs at least one permission node")
		}
		sp.Nodes = argv
	case KindHasRole:
		if len(argv) == 0 {
			return Spec{}, specError(s, "hasRole needs at least one role")
		}
		sp.Roles = argv
	case KindIsBotAdmin:
		if len(argv) != 0 {
			return Spec{}, specError(s, "isBotAdmin takes no arguments")
		}
	}
	return sp, nil
}

// ParseSpecs parses a list of middleware declarations for a command.
func ParseSpecs(command string, specs ...string) ([]Spec, error) {
	r := make([]Spec, 0, len(specs))
	for _, s := range specs {
		sp, err := ParseSpec(s)
		if err != nil {
			if cerr, ok := err.(*ConfigurationError); ok {
				cerr.Command = command
			}
			return nil, err
		}
		r = append(r, sp)
	}
	return r, nil
}

// MustSpecs is like ParseSpecs but panics on error. It is meant for
// declarations written in code.
func MustSpecs(specs ...string) []Spec {
	r, err := ParseSpecs("", specs...)
	if err != nil {
		panic(err)
	}
	return r
}

func specError(spec, format string, args ...any) error {
	return &ConfigurationError{Spec: spec, Msg: fmt.Sprintf(format, args...)}
}
