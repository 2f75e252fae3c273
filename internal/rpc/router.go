// Package rpc implements typed remote procedures over HTTP: each procedure
// is a name, a kind, an access rule and a handler with a typed input.
package rpc

import (
	"context"
	"encoding/json"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/staffhub/staffhub/internal/calendar"
	"github.com/staffhub/staffhub/internal/database"
)

// Kind distinguishes read-only queries from mutations
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// Access describes who may call a procedure
type Access struct {
	public bool
	roles  []database.Role
}

var (
	// Public procedures need no token
	Public = Access{public: true}
	// Authenticated procedures accept any active user
	Authenticated = Access{}
)

// Roles restricts a procedure to users holding one of roles
func Roles(roles ...database.Role) Access {
	return Access{roles: roles}
}

// String renders the access rule for procedure listings
func (a Access) String() string {
	switch {
	case a.public:
		return "public"
	case len(a.roles) == 0:
		return "authenticated"
	}
	names := make([]string, len(a.roles))
	for i, r := range a.roles {
		names[i] = string(r)
	}
	return strings.Join(names, "|")
}

func (a Access) allows(u *database.User) bool {
	if a.public {
		return true
	}
	if u == nil {
		return false
	}
	return len(a.roles) == 0 || slices.Contains(a.roles, u.Role)
}

// Authenticator resolves a bearer token to an active user
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*database.User, error)
}

type handlerFunc func(ctx context.Context, raw json.RawMessage) (any, error)

// Procedure is a registered remote procedure
type Procedure struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Access string `json:"access"`

	access Access
	handle handlerFunc
}

// Router holds the procedure table
type Router struct {
	procs    map[string]*Procedure
	auth     Authenticator
	validate *validator.Validate
}

// NewRouter creates an empty router. auth may be nil when no procedure
// requires authentication.
func NewRouter(auth Authenticator) *Router {
	return &Router{
		procs:    make(map[string]*Procedure),
		auth:     auth,
		validate: NewValidator(),
	}
}

// NewValidator returns a validator that reports json field names and
// understands the "date" tag (YYYY-MM-DD).
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseDate(fl.Field().String())
		return err == nil
	})
	// maxbytes bounds the encoded length, e.g. bcrypt's 72 byte input limit
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// Query registers a read-only procedure
func Query[In, Out any](r *Router, name string, access Access, fn func(ctx context.Context, in In) (Out, error)) {
	register(r, name, KindQuery, access, fn)
}

// Mutation registers a state-changing procedure
func Mutation[In, Out any](r *Router, name string, access Access, fn func(ctx context.Context, in In) (Out, error)) {
	register(r, name, KindMutation, access, fn)
}

func register[In, Out any](r *Router, name string, kind Kind, access Access, fn func(ctx context.Context, in In) (Out, error)) {
	if _, exists := r.procs[name]; exists {
		panic("rpc: duplicate procedure " + name)
	}
	r.procs[name] = &Procedure{
		Name:   name,
		Kind:   kind,
		Access: access.String(),
		access: access,
		handle: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in In
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, BadRequest("invalid input: " + err.Error())
				}
			}
			if err := r.validateInput(&in); err != nil {
				return nil, err
			}
			return fn(ctx, in)
		},
	}
}

func (r *Router) validateInput(in any) error {
	v := reflect.ValueOf(in)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return r.validate.Struct(v.Interface())
}

// Lookup returns a procedure by name
func (r *Router) Lookup(name string) (*Procedure, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// Procedures lists every registered procedure sorted by name
func (r *Router) Procedures() []*Procedure {
	out := make([]*Procedure, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call authorizes and runs a procedure. token may be empty.
func (r *Router) Call(ctx context.Context, name, token string, raw json.RawMessage) (any, error) {
	p, ok := r.procs[name]
	if !ok {
		return nil, Errorf(CodeNotFound, "procedure %q not found", name)
	}
	return r.call(ctx, p, token, raw)
}

func (r *Router) call(ctx context.Context, p *Procedure, token string, raw json.RawMessage) (any, error) {
	var user *database.User
	if token != "" && r.auth != nil {
		u, err := r.auth.Authenticate(ctx, token)
		if err != nil && !p.access.public {
			return nil, Unauthorized("invalid or expired token")
		}
		user = u
	}

	if !p.access.public {
		if user == nil {
			return nil, Unauthorized("authentication required")
		}
		if !p.access.allows(user) {
			return nil, Forbidden("insufficient role")
		}
	}

	if user != nil {
		ctx = WithUser(ctx, user)
	}
	return p.handle(ctx, raw)
}
