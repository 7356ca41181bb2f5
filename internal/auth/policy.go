package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Protected objects and actions.
const (
	ObjMovies    = "movies"
	ObjReviews   = "reviews"
	ObjWatchlist = "watchlist"
	ObjUsers     = "users"

	ActWrite    = "write"
	ActModerate = "moderate"
	ActManage   = "manage"
)

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// defaultPolicies grant users their own content and admins the catalog,
// moderation and account management. Admins inherit every user grant.
var defaultPolicies = [][]string{
	{RoleUser, ObjReviews, ActWrite},
	{RoleUser, ObjWatchlist, ActWrite},
	{RoleUser, ObjUsers, ActWrite},
	{RoleAdmin, ObjMovies, ActWrite},
	{RoleAdmin, ObjReviews, ActModerate},
	{RoleAdmin, ObjUsers, ActManage},
}

// Policy evaluates role permissions.
type Policy struct {
	e *casbin.SyncedEnforcer
}

// NewPolicy builds the enforcer with the built-in role policy.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("add policies: %w", err)
	}
	if _, err := e.AddGroupingPolicy(RoleAdmin, RoleUser); err != nil {
		return nil, fmt.Errorf("add role inheritance: %w", err)
	}
	return &Policy{e: e}, nil
}

// Allow reports whether role may perform act on obj. Enforcement errors
// deny.
func (p *Policy) Allow(role, obj, act string) bool {
	ok, err := p.e.Enforce(role, obj, act)
	return err == nil && ok
}
