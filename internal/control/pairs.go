package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"copytrader/internal/core"
)

// flexFloat accepts a JSON number, a numeric string, or null
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt is the integer form of flexFloat
type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*i = flexInt(f)
	return nil
}

// flexBool accepts true/false, 0/1 and their string forms. Absent means true.
type flexBool struct {
	set   bool
	value bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.ToLower(string(bytes.TrimSpace(b))), `"`)
	switch s {
	case "null", "":
		return nil
	case "true", "1", "active", "trading":
		f.set, f.value = true, true
	case "false", "0", "inactive":
		f.set, f.value = true, false
	default:
		return fmt.Errorf("invalid status %s", string(b))
	}
	return nil
}

func (f flexBool) orTrue() bool {
	if !f.set {
		return true
	}
	return f.value
}

// rawPair is one symbol's rules as the server sends them
type rawPair struct {
	Symbol      string    `json:"symbol"`
	MinOrderQty flexFloat `json:"min_order_qty"`
	MinPrice    flexFloat `json:"min_price"`
	TickSize    flexFloat `json:"tick_size"`
	QtyStep     flexFloat `json:"qty_step"`
	StepSize    flexFloat `json:"step_size"`
	Status      flexBool  `json:"status"`
}

func (p rawPair) rule(symbol string, now time.Time) core.SymbolRule {
	step := float64(p.QtyStep)
	if step == 0 {
		step = float64(p.StepSize)
	}
	return core.SymbolRule{
		Symbol:      symbol,
		MinOrderQty: float64(p.MinOrderQty),
		MinPrice:    float64(p.MinPrice),
		TickSize:    float64(p.TickSize),
		StepSize:    step,
		Active:      p.Status.orTrue(),
		UpdatedAt:   now,
	}
}

// pairsList decodes pairs sent either as an object keyed by symbol or as an
// array of objects carrying a symbol field
type pairsList []core.SymbolRule

func (l *pairsList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}

	now := time.Now()
	switch b[0] {
	case '{':
		var m map[string]rawPair
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("invalid pairs: %w", err)
		}
		out := make([]core.SymbolRule, 0, len(m))
		for symbol, p := range m {
			out = append(out, p.rule(symbol, now))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
		*l = out
	case '[':
		var arr []rawPair
		if err := json.Unmarshal(b, &arr); err != nil {
			return fmt.Errorf("invalid pairs: %w", err)
		}
		out := make([]core.SymbolRule, 0, len(arr))
		for _, p := range arr {
			if p.Symbol == "" {
				continue
			}
			out = append(out, p.rule(p.Symbol, now))
		}
		*l = out
	default:
		return fmt.Errorf("invalid pairs: unexpected %q", b[0])
	}
	return nil
}

// Info is the master account info returned by init
type Info struct {
	// Balance is the master balance used for quantity scaling
	Balance float64
	Fields  map[string]interface{}
}

func (i *Info) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*i = Info{}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("invalid info: %w", err)
	}

	out := Info{Fields: make(map[string]interface{}, len(fields))}
	for k, raw := range fields {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid info field %s: %w", k, err)
		}
		out.Fields[k] = v
	}
	if raw, ok := fields["balance"]; ok {
		var bal flexFloat
		if err := bal.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("invalid info balance: %w", err)
		}
		out.Balance = float64(bal)
	}
	*i = out
	return nil
}

// merge overlays other's fields onto i
func (i *Info) merge(other Info) {
	if len(other.Fields) == 0 {
		return
	}
	if i.Fields == nil {
		i.Fields = make(map[string]interface{}, len(other.Fields))
	}
	for k, v := range other.Fields {
		i.Fields[k] = v
	}
	if _, ok := other.Fields["balance"]; ok {
		i.Balance = other.Balance
	}
}
