package app

import (
	"strconv"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
)

// parseBool accepts the yes|no spellings the flags document, plus the usual
// aliases.
func parseBool(s string) (bool, error) {
	switch s {
	case "yes", "y", "true", "on", "1":
		return true, nil
	case "no", "n", "false", "off", "0":
		return false, nil
	}
	return false, fterrors.NewParseError("expected yes or no, got %q", s)
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fterrors.NewParseError("expected a number, got %q", s)
	}
	return n, nil
}
