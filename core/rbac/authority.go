package rbac

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"medsafe/core/approval"
)

// Role names are a closed set. The three adjudication roles map one-to-one
// onto approval levels; admin may decide any level and holds every HTTP
// permission.
const (
	RoleReporter   = "reporter"
	RoleQPSOfficer = "qps_officer"
	RoleViceChair  = "vice_chair"
	RoleDirector   = "director"
	RoleAdmin      = "admin"
)

var roleLevels = map[string]approval.Level{
	RoleQPSOfficer: approval.LevelQPS,
	RoleViceChair:  approval.LevelViceChair,
	RoleDirector:   approval.LevelDirector,
}

const casbinModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// policies: subject, object, action.
var defaultPolicies = [][]string{
	{RoleQPSOfficer, "approval:" + approval.LevelQPS.String(), "decide"},
	{RoleViceChair, "approval:" + approval.LevelViceChair.String(), "decide"},
	{RoleDirector, "approval:" + approval.LevelDirector.String(), "decide"},
	{RoleAdmin, "approval:" + approval.LevelQPS.String(), "decide"},
	{RoleAdmin, "approval:" + approval.LevelViceChair.String(), "decide"},
	{RoleAdmin, "approval:" + approval.LevelDirector.String(), "decide"},

	{RoleReporter, "incidents", "create"},
	{RoleReporter, "incidents", "view"},
	{RoleReporter, "incidents", "submit"},
	{RoleReporter, "incidents", "resubmit"},
	{RoleReporter, "approvals", "view"},
	{RoleQPSOfficer, "incidents", "view"},
	{RoleViceChair, "incidents", "view"},
	{RoleDirector, "incidents", "view"},
	{RoleQPSOfficer, "approvals", "view"},
	{RoleViceChair, "approvals", "view"},
	{RoleDirector, "approvals", "view"},
	{RoleQPSOfficer, "approvals", "decide"},
	{RoleViceChair, "approvals", "decide"},
	{RoleDirector, "approvals", "decide"},
	{RoleAdmin, "incidents", "create"},
	{RoleAdmin, "incidents", "view"},
	{RoleAdmin, "incidents", "submit"},
	{RoleAdmin, "incidents", "resubmit"},
	{RoleAdmin, "approvals", "view"},
	{RoleAdmin, "approvals", "decide"},
	{RoleAdmin, "audit", "view"},
}

// Authority is the role/permission decision table, backed by a casbin
// enforcer built from an in-code model. It has no mutable state.
type Authority struct {
	enforcer *casbin.Enforcer
}

func NewAuthority() (*Authority, error) {
	m, err := model.NewModelFromString(casbinModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	return &Authority{enforcer: e}, nil
}

// CanDecide reports whether the role may decide the given approval level.
func (a *Authority) CanDecide(role string, level approval.Level) bool {
	if a == nil || !level.Valid() {
		return false
	}
	ok, err := a.enforcer.Enforce(normalizeRole(role), "approval:"+level.String(), "decide")
	return err == nil && ok
}

// LevelFor returns the single level the role adjudicates, or false for
// roles outside the fixed mapping (admin decides any level but owns none).
func (a *Authority) LevelFor(role string) (approval.Level, bool) {
	level, ok := roleLevels[normalizeRole(role)]
	return level, ok
}

// Allowed reports whether any of the principal's roles grants the
// permission, written as "object.action" (e.g. "incidents.view").
func (a *Authority) Allowed(roles []string, perm string) bool {
	if a == nil {
		return false
	}
	obj, act, err := splitPermission(perm)
	if err != nil {
		return false
	}
	for _, role := range roles {
		if ok, err := a.enforcer.Enforce(normalizeRole(role), obj, act); err == nil && ok {
			return true
		}
	}
	return false
}

// DecidingRole picks the first of the principal's roles that may decide the
// level. Empty string when none qualifies.
func (a *Authority) DecidingRole(roles []string, level approval.Level) string {
	for _, role := range roles {
		if a.CanDecide(role, level) {
			return normalizeRole(role)
		}
	}
	return ""
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func splitPermission(perm string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(perm), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed permission %q", perm)
	}
	return parts[0], parts[1], nil
}
