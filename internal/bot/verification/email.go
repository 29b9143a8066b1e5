package verification

import (
	"regexp"
	"strings"
)

// emailPattern is a coarse shape check; the domain check does the real work.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// EmailValidator accepts addresses on the corporate domain plus a fixed
// exemption list.
type EmailValidator struct {
	workDomain string
	exempt     map[string]struct{}
}

// NewEmailValidator builds a validator for the given domain and exemption
// list. Exemption entries are matched case-insensitively and trimmed.
func NewEmailValidator(workDomain string, excludedEmails []string) *EmailValidator {
	exempt := make(map[string]struct{}, len(excludedEmails))
	for _, email := range excludedEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			exempt[email] = struct{}{}
		}
	}

	return &EmailValidator{
		workDomain: strings.ToLower(strings.TrimSpace(workDomain)),
		exempt:     exempt,
	}
}

// Normalize lowercases and trims an address for comparison and storage.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidWorkEmail reports whether the address is acceptable for
// verification: well-formed and either on the corporate domain or on the
// exemption list.
func (v *EmailValidator) IsValidWorkEmail(email string) bool {
	email = Normalize(email)

	if _, ok := v.exempt[email]; ok {
		return true
	}

	if !emailPattern.MatchString(email) {
		return false
	}

	return strings.HasSuffix(email, "@"+v.workDomain)
}

// IsExempt reports whether the address is on the exemption list.
func (v *EmailValidator) IsExempt(email string) bool {
	_, ok := v.exempt[Normalize(email)]
	return ok
}
