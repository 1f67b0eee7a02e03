// Package cursor compares mention ids. Ids are decimal strings that can
// exceed 64 bits, so comparison is numeric with arbitrary precision rather
// than lexical. The empty string means "no cursor".
package cursor

import "math/big"

// parse accepts only plain digit strings. big.Int alone would also take a
// sign, which the platform rejects as an id.
func parse(id string) (*big.Int, bool) {
	if id == "" {
		return nil, false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return nil, false
		}
	}
	return new(big.Int).SetString(id, 10)
}

// Valid reports whether id is a non-empty string of ASCII digits.
func Valid(id string) bool {
	_, ok := parse(id)
	return ok
}

// Compare returns -1, 0 or +1 as a is less than, equal to, or greater than
// b. Absent or unparsable ids sort before every valid id and equal to each
// other.
func Compare(a, b string) int {
	na, okA := parse(a)
	nb, okB := parse(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return na.Cmp(nb)
}

// Max returns the greater of a and b. If neither is valid it returns "".
func Max(a, b string) string {
	if !Valid(a) && !Valid(b) {
		return ""
	}
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Normalize returns id if it is valid and "" otherwise.
func Normalize(id string) string {
	if Valid(id) {
		return id
	}
	return ""
}
