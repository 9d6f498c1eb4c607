package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// FirstNonEmpty returns the first non-empty string
func FirstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}

// SplitByMultipleDelimiters splits s on any of the delimiters, trimming
// blanks and dropping empty parts
func SplitByMultipleDelimiters(s string, delimiters ...string) []string {
	parts := []string{s}
	if len(delimiters) > 0 {
		re := regexp.MustCompile("[" + regexp.QuoteMeta(strings.Join(delimiters, "")) + "]")
		parts = re.Split(s, -1)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseInt64List parses a comma or semicolon separated id list
func ParseInt64List(s string) ([]int64, error) {
	parts := SplitByMultipleDelimiters(s, ",", ";")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
