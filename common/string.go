package common

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

func RandomID() string {
	u, _ := uuid.NewRandom()
	return u.String()
}

var postcodeRegex = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]? ?[0-9][A-Z]{2}$`)

// NormalizePostcode upper-cases a UK postcode and inserts the single space
// before the inward code. It returns "" when the input is not a postcode.
func NormalizePostcode(s string) string {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if len(s) < 5 || len(s) > 7 {
		return ""
	}
	s = s[:len(s)-3] + " " + s[len(s)-3:]
	if !postcodeRegex.MatchString(s) {
		return ""
	}
	return s
}
