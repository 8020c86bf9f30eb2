package core

import "fmt"

// OrderType is the closed set of order types a command can carry.
// Only the four types below implement it.
type OrderType interface {
	Kind() OrderKind
	orderType()
}

// Market fills at the current price
type Market struct{}

// Limit rests at the command's trade price
type Limit struct{}

// StopLimit arms a limit order once price moves through the trigger in the
// command's direction
type StopLimit struct{}

// ProfitLimit arms a limit order once price moves through the trigger
// against the command's direction
type ProfitLimit struct{}

func (Market) Kind() OrderKind      { return OrderKindMarket }
func (Limit) Kind() OrderKind       { return OrderKindLimit }
func (StopLimit) Kind() OrderKind   { return OrderKindStopLimit }
func (ProfitLimit) Kind() OrderKind { return OrderKindProfitLimit }

func (Market) orderType()      {}
func (Limit) orderType()       {}
func (StopLimit) orderType()   {}
func (ProfitLimit) orderType() {}

// ParseOrderType maps the wire order type onto the variant
func ParseOrderType(kind OrderKind) (OrderType, error) {
	switch kind {
	case OrderKindMarket:
		return Market{}, nil
	case OrderKindLimit:
		return Limit{}, nil
	case OrderKindStopLimit:
		return StopLimit{}, nil
	case OrderKindProfitLimit:
		return ProfitLimit{}, nil
	}
	return nil, fmt.Errorf("unsupported order type %q", kind)
}
