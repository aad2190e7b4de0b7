package model

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"
)

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\[[0-9]+\])*(\.[A-Za-z_][A-Za-z0-9_]*(\[[0-9]+\])*)*$`)

// CheckFieldPath accepts dot/bracket field paths such as
// "restricted.passport[0].documentnumber".
func CheckFieldPath(p string) error {
	if err := CheckNoControl(p); err != nil {
		return err
	}
	if !fieldPathPattern.MatchString(p) {
		return errors.New("not a valid field path")
	}
	return nil
}

// CheckNoControl rejects values containing control characters.
func CheckNoControl(v string) error {
	for _, r := range v {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains control character %U", r)
		}
	}
	return nil
}
