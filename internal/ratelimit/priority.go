package ratelimit

import (
	"fmt"
	"strings"
)

// Priority selects the sub-bucket a call is charged against
type Priority int

const (
	High Priority = iota
	Medium
	Low
)

var priorities = [...]Priority{High, Medium, Low}

func (p Priority) String() string {
	switch p {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// ParsePriority parses HIGH, MEDIUM or LOW case-insensitively
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(s) {
	case "HIGH":
		return High, nil
	case "MEDIUM":
		return Medium, nil
	case "LOW":
		return Low, nil
	}
	return 0, fmt.Errorf("unknown priority: %s", s)
}

func (p Priority) valid() bool { return p >= High && p <= Low }
