package model

import (
	"fmt"
	"strings"
)

// InputSelector picks the price view an indicator reads as its primary input.
type InputSelector int

const (
	Close InputSelector = iota
	Open
	High
	Low
	MedianPrice      // (H+L)/2
	TypicalPrice     // (H+L+C)/3
	WeightedClose    // (H+L+2C)/4
	FullTypicalPrice // (O+H+L+C)/4

	numSelectors
)

var selectorNames = [numSelectors]string{
	Close:            "close",
	Open:             "open",
	High:             "high",
	Low:              "low",
	MedianPrice:      "median",
	TypicalPrice:     "typical",
	WeightedClose:    "weighted",
	FullTypicalPrice: "full_typical",
}

// Valid reports whether sel is a known selector.
func (sel InputSelector) Valid() bool { return sel >= 0 && sel < numSelectors }

func (sel InputSelector) String() string {
	if !sel.Valid() {
		return fmt.Sprintf("InputSelector(%d)", int(sel))
	}
	return selectorNames[sel]
}

// ParseInputSelector accepts the names printed by String (case-insensitive)
// plus a few common aliases ("hl2", "hlc3", "hlcc4", "ohlc4").
func ParseInputSelector(s string) (InputSelector, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "hl2":
		return MedianPrice, nil
	case "hlc3":
		return TypicalPrice, nil
	case "hlcc4":
		return WeightedClose, nil
	case "ohlc4":
		return FullTypicalPrice, nil
	}
	for i, name := range selectorNames {
		if name == key {
			return InputSelector(i), nil
		}
	}
	return Close, fmt.Errorf("model: unknown input selector %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (sel InputSelector) MarshalText() ([]byte, error) {
	if !sel.Valid() {
		return nil, fmt.Errorf("model: invalid input selector %d", int(sel))
	}
	return []byte(sel.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (sel *InputSelector) UnmarshalText(b []byte) error {
	v, err := ParseInputSelector(string(b))
	if err != nil {
		return err
	}
	*sel = v
	return nil
}
