package block

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the outcome of evaluating one balance observation
type Action int

const (
	// ActionNone leaves the rider untouched
	ActionNone Action = iota
	// ActionBlock removes every permitted starting point
	ActionBlock
	// ActionUnblock restores every starting point of the rider's city
	ActionUnblock
	// ActionSkip is an unblock suppressed by a manual block
	ActionSkip
)

var actionNames = [...]string{
	ActionNone:    "none",
	ActionBlock:   "block",
	ActionUnblock: "unblock",
	ActionSkip:    "skip",
}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// MarshalText implements encoding.TextMarshaler
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Decide maps the current flags, the city configuration and a balance to an
// action. A missing or disabled configuration never acts.
func Decide(autoBlocked, manualBlocked bool, cfg *CityConfig, balance decimal.Decimal) Action {
	if cfg == nil || !cfg.Enabled {
		return ActionNone
	}
	switch {
	case balance.GreaterThanOrEqual(cfg.CashLimit):
		if autoBlocked {
			return ActionNone
		}
		return ActionBlock
	case autoBlocked && balance.LessThanOrEqual(cfg.UnblockThreshold):
		if manualBlocked {
			return ActionSkip
		}
		return ActionUnblock
	}
	return ActionNone
}
