package types

import "strings"

// PlateLen is the fixed length of a plate: three letters, three digits, one letter.
const PlateLen = 7

// NormalizePlate upper-cases raw, strips whitespace and reports whether the
// result matches the plate grammar.
func NormalizePlate(raw string) (string, bool) {
	p := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if !ValidPlate(p) {
		return "", false
	}
	return p, true
}

// ValidPlate checks the grammar on an already normalized plate.
func ValidPlate(p string) bool {
	if len(p) != PlateLen {
		return false
	}
	for i := 0; i < PlateLen; i++ {
		c := p[i]
		switch {
		case i < 3 || i == 6:
			if c < 'A' || c > 'Z' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
