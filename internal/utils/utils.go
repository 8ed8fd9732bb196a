package utils

import (
	"regexp"

	"github.com/google/uuid"
)

var numbersOnly = regexp.MustCompile("^[0-9]{1,9}$")

// CheckIsNumbersOnly accepts short unsigned decimal strings, as used by paging parameters.
func CheckIsNumbersOnly(s string) bool {
	return numbersOnly.MatchString(s)
}

func CheckUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// FirstInvalidUUID returns the first id that is not a canonical uuid.
func FirstInvalidUUID(ids []string) (string, bool) {
	for _, id := range ids {
		if !CheckUUID(id) {
			return id, true
		}
	}
	return "", false
}
