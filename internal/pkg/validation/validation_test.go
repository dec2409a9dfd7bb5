package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidBeneficiaryID(t *testing.T) {
	for _, id := range []string{"A", "farmer-1", "0.0.1234", "investor_7", "ops@grove"} {
		assert.True(t, IsValidBeneficiaryID(id), id)
	}
	for _, id := range []string{"", " A", "-lead", "a b", "semi;colon", strings.Repeat("x", 129)} {
		assert.False(t, IsValidBeneficiaryID(id), id)
	}
}

func TestIsValidGroveName(t *testing.T) {
	assert.True(t, IsValidGroveName("North Olive"))
	assert.True(t, IsValidGroveName("Sant'Anna 2"))
	assert.True(t, IsValidGroveName("Kalamáta"))
	assert.False(t, IsValidGroveName("   "))
	assert.False(t, IsValidGroveName("<b>grove</b>"))
	assert.False(t, IsValidGroveName(strings.Repeat("a", 121)))
}
