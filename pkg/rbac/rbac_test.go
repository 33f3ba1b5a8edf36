package rbac

import (
	"context"
	"testing"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermission_AdminWildcardGrantsEverything(t *testing.T) {
	assert.True(t, HasPermission("admin", "anything", "destroy"))
}

func TestHasPermission_OperatorExactMatch(t *testing.T) {
	assert.True(t, HasPermission("operator", "decisions", "create"))
	assert.False(t, HasPermission("operator", "audit", "view"))
}

func TestHasPermission_ViewerCannotSign(t *testing.T) {
	assert.True(t, HasPermission("viewer", "decisions", "view"))
	assert.False(t, HasPermission("viewer", "decisions", "sign"))
}

func TestHasPermission_WaterAuthorityWildcardResource(t *testing.T) {
	assert.True(t, HasPermission("water_authority", "water", "anything"))
	assert.False(t, HasPermission("water_authority", "power", "anything"))
	assert.True(t, HasPermission("water_authority", "decisions", "create"))
}

func TestHasPermission_MinistryOfDefenseExtendsOperator(t *testing.T) {
	assert.True(t, HasPermission("ministry_of_defense", "cmi", "activate"))
	assert.True(t, HasPermission("ministry_of_defense", "decisions", "create"))
	assert.False(t, HasPermission("defense", "cmi", "activate"))
}

func TestHasPermission_RegulatoryComplianceCanViewAuditNotSignPackets(t *testing.T) {
	assert.True(t, HasPermission("regulatory_compliance", "audit", "view"))
	assert.True(t, HasPermission("regulatory_compliance", "decisions", "sign"))
	assert.False(t, HasPermission("regulatory_compliance", "packets", "authorize"))
}

func TestKnownRole_RejectsUnlistedRole(t *testing.T) {
	assert.True(t, KnownRole("operator"))
	assert.False(t, KnownRole("superuser"))
}

func TestRequirePermission_ReturnsTypedDenial(t *testing.T) {
	err := RequirePermission("viewer", "decisions", "sign")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindPermissionDenied))

	assert.NoError(t, RequirePermission("viewer", "decisions", "view"))
}

func TestCELGate_NarrowsBySourceAddress(t *testing.T) {
	gate, err := NewCELGate()
	require.NoError(t, err)
	require.NoError(t, gate.AddPolicy(`resource != "cmi" || source_addr.startsWith("10.0.")`))

	ctx := context.Background()
	allowed, err := gate.Evaluate(ctx, Context{Role: "ministry_of_defense", Resource: "cmi", Action: "activate", SourceAddr: "10.0.0.5"})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = gate.Evaluate(ctx, Context{Role: "ministry_of_defense", Resource: "cmi", Action: "activate", SourceAddr: "203.0.113.9"})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCELGate_AllowsEverythingWithNoPolicies(t *testing.T) {
	gate, err := NewCELGate()
	require.NoError(t, err)
	allowed, err := gate.Evaluate(context.Background(), Context{Resource: "cmi", Action: "activate"})
	require.NoError(t, err)
	assert.True(t, allowed)
}
