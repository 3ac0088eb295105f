package model

import (
	"regexp"
	"strings"
)

// VINLength is the fixed length of a modern (1981+) VIN.
const VINLength = 17

// vinPattern accepts the VIN alphabet: digits and letters except I, O and Q.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// modelYearCycle is the length of the repeating model-year code cycle.
const modelYearCycle = 30

// modelYearBase maps the 10th VIN character to the first year of its cycle.
var modelYearBase = map[byte]int{
	'A': 1980, 'B': 1981, 'C': 1982, 'D': 1983, 'E': 1984,
	'F': 1985, 'G': 1986, 'H': 1987, 'J': 1988, 'K': 1989,
	'L': 1990, 'M': 1991, 'N': 1992, 'P': 1993, 'R': 1994,
	'S': 1995, 'T': 1996, 'V': 1997, 'W': 1998, 'X': 1999,
	'Y': 2000,
	'1': 2001, '2': 2002, '3': 2003, '4': 2004, '5': 2005,
	'6': 2006, '7': 2007, '8': 2008, '9': 2009,
}

// CanonicalVIN trims and uppercases raw input. It does not validate.
func CanonicalVIN(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidVIN reports whether vin is exactly 17 characters from the VIN alphabet.
// The check digit is not verified.
func ValidVIN(vin string) bool {
	return vinPattern.MatchString(vin)
}

// VINProblem describes why vin is malformed, or "" when it is well-formed.
func VINProblem(vin string) string {
	if len(vin) != VINLength {
		return "VIN must be 17 characters"
	}
	if strings.ContainsAny(vin, "IOQ") {
		return "VIN must not contain I, O or Q"
	}
	if !vinPattern.MatchString(vin) {
		return "VIN must contain only letters and digits"
	}
	return ""
}

// DecodeModelYear derives the model year from the 10th VIN character.
// The code repeats every 30 years, so the most recent candidate not after
// currentYear+1 is chosen. Returns ok=false when the character is not a
// model-year code.
func DecodeModelYear(vin string, currentYear int) (year int, ok bool) {
	if len(vin) < 10 {
		return 0, false
	}
	base, found := modelYearBase[vin[9]]
	if !found {
		return 0, false
	}
	limit := currentYear + 1
	if base > limit {
		return 0, false
	}
	year = base
	for year+modelYearCycle <= limit {
		year += modelYearCycle
	}
	return year, true
}
