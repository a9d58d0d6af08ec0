package core

// convert.go parses the numeric cells of a product row. It handles the messy
// reality of spreadsheet exports: currency symbols, thousands separators,
// accounting negatives "(12.50)" and trailing percent signs.

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numericRegex validates that a string is a plain decimal after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// errNotNumber is returned when a cell does not hold a number.
var errNotNumber = errors.New("not a number")

// errNotInteger is returned when a quantity cell has a fractional part.
var errNotInteger = errors.New("not a whole number")

// cleanNumeric strips presentation characters from a numeric cell.
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer(
		"$", "",
		"€", "", // Euro
		"£", "", // Pound
		"¥", "", // Yen
		",", "",
		"%", "",
		" ", "",
	).Replace(s)

	if negative {
		s = "-" + s
	}
	return s
}

// ParseNumber parses a decimal cell. Blank cells are not valid numbers;
// callers check presence first.
func ParseNumber(s string) (float64, error) {
	s = cleanNumeric(s)
	if !numericRegex.MatchString(s) {
		return 0, errNotNumber
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, errNotNumber
	}
	return f, nil
}

// ParseQuantity parses a whole-number cell. "12.0" is accepted, "12.5" is not.
func ParseQuantity(s string) (int, error) {
	f, err := ParseNumber(s)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, errNotInteger
	}
	return int(f), nil
}

// ParseID parses a positive entity id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("not a positive integer id")
	}
	return id, nil
}

// FormatDecimal renders a price for CSV output and database text parameters.
func FormatDecimal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
