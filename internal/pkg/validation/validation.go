package validation

import (
	"regexp"
	"strings"
	"unicode"
)

// Beneficiary ids are farmer ids, investor ids or token-network account ids (e.g. "0.0.1234").
var beneficiaryIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)

func IsValidBeneficiaryID(id string) bool {
	return beneficiaryIDRe.MatchString(id)
}

// IsValidGroveName accepts printable names of letters, digits, spaces and - ' . punctuation.
func IsValidGroveName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 120 {
		return false
	}
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ' ', r == '-', r == '\'', r == '.':
		default:
			return false
		}
	}
	return true
}
