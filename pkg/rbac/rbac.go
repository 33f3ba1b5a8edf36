// Package rbac is munin's fixed permission matrix (C6, spec.md §4.6):
// role membership and resource/action grants are authoritative at build
// time, not configurable at runtime. An optional CEL-based conditional
// access gate layers contextual restrictions (user, role, resource,
// action, source address) on top of the static grant.
package rbac

import (
	"context"

	"github.com/jacobsprake/munin/pkg/apierr"
)

// Wildcard matches any resource or action within a grant.
const Wildcard = "*"

// grant is one (resource, action) permission a role holds. Either field
// may be Wildcard.
type grant struct {
	resource string
	action   string
}

// matrix is the authoritative role → grant set, transcribed from
// spec.md §4.6 exactly. operatorGrants is the shared base every
// sector-specific role builds on ("operator perms").
var operatorGrants = []grant{
	{"decisions", "create"},
	{"decisions", "sign"},
	{"decisions", "view"},
	{"packets", "view"},
	{"packets", "authorize"},
	{"incidents", "view"},
	{"graph", "view"},
	{"simulation", "run"},
}

var matrix = map[string][]grant{
	"admin": {{Wildcard, Wildcard}},
	"operator": operatorGrants,
	"viewer": {
		{"decisions", "view"},
		{"packets", "view"},
		{"incidents", "view"},
		{"graph", "view"},
	},
	"ministry_of_defense": append(append([]grant{}, operatorGrants...),
		grant{"cmi", "activate"}, grant{"cmi", "authorize"}),
	"defense":           operatorGrants,
	"water_authority":   append(append([]grant{}, operatorGrants...), grant{"water", Wildcard}),
	"power_grid_operator": append(append([]grant{}, operatorGrants...), grant{"power", Wildcard}),
	"regulatory_compliance": {
		{"decisions", "view"},
		{"decisions", "sign"},
		{"packets", "view"},
		{"audit", "view"},
		{"incidents", "view"},
		{"graph", "view"},
	},
	"emergency_services": operatorGrants,
}

// KnownRole reports whether role appears in the authoritative matrix.
// spec.md §9: a role outside this superset is InputInvalid, never
// silently denied.
func KnownRole(role string) bool {
	_, ok := matrix[role]
	return ok
}

// HasPermission reports whether role may perform action on resource, per
// spec.md §4.6: exact match, resource-scoped wildcard action, action-scoped
// wildcard resource, or the full (*,*) grant.
func HasPermission(role, resource, action string) bool {
	grants, ok := matrix[role]
	if !ok {
		return false
	}
	for _, g := range grants {
		if g.resource == Wildcard && g.action == Wildcard {
			return true
		}
		if g.resource == resource && g.action == Wildcard {
			return true
		}
		if g.resource == Wildcard && g.action == action {
			return true
		}
		if g.resource == resource && g.action == action {
			return true
		}
	}
	return false
}

// RequirePermission returns a typed PermissionDenied error when role may
// not perform action on resource; nil otherwise.
func RequirePermission(role, resource, action string) error {
	if !HasPermission(role, resource, action) {
		return apierr.New(apierr.KindPermissionDenied, "role "+role+" may not "+action+" "+resource)
	}
	return nil
}

// Context carries the contextual facts an optional conditional-access
// policy may gate on, on top of the static role grant.
type Context struct {
	UserID     string
	Role       string
	Resource   string
	Action     string
	SourceAddr string
}

// ConditionalGate evaluates an additional CEL predicate after the static
// matrix already allows a request, letting a deployment narrow (never
// widen) access by context — e.g. restrict `cmi{activate}` to a
// particular source network. Absent any compiled program, Evaluate
// always allows.
type ConditionalGate interface {
	Evaluate(ctx context.Context, rc Context) (bool, error)
}
