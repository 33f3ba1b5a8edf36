package validation

import (
	"testing"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/stretchr/testify/assert"
)

func TestValidatePolicy_AcceptsWellFormedPolicy(t *testing.T) {
	policy := map[string]interface{}{
		"threshold": float64(2),
		"required":  float64(3),
		"signers":   []interface{}{"a", "b", "c"},
	}
	assert.NoError(t, ValidatePolicy(policy))
}

func TestValidatePolicy_RejectsMissingSigners(t *testing.T) {
	policy := map[string]interface{}{
		"threshold": float64(2),
		"required":  float64(3),
	}
	err := ValidatePolicy(policy)
	assert.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindInputInvalid))
}

func TestValidatePolicy_RejectsDuplicateSigners(t *testing.T) {
	policy := map[string]interface{}{
		"threshold": float64(1),
		"required":  float64(2),
		"signers":   []interface{}{"a", "a"},
	}
	err := ValidatePolicy(policy)
	assert.Error(t, err)
}

func TestValidateScope_AcceptsArbitraryObject(t *testing.T) {
	assert.NoError(t, ValidateScope(map[string]interface{}{"valve_id": "v-12", "target_state": "closed"}))
}

func TestValidateScope_RejectsNonObject(t *testing.T) {
	err := ValidateScope("not-an-object")
	assert.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindInputInvalid))
}
