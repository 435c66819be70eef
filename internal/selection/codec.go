package selection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hanko-field/product-options/internal/domain"
)

// TransportField is the add-to-cart form field carrying the serialized selection.
const TransportField = "extra_options_data"

type transportItem struct {
	Option   *string `json:"option"`
	Quantity *int    `json:"quantity"`
}

// Encode serializes sel as a JSON array of {option, quantity}. A nil or empty
// selection encodes as "[]".
func Encode(sel domain.Selection) (string, error) {
	if sel == nil {
		sel = domain.Selection{}
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return "", fmt.Errorf("selection: encode: %w", err)
	}
	return string(data), nil
}

// Decode parses a transport value. ok is false for anything other than a JSON array
// whose elements all carry a string option and an integer quantity; callers treat
// that as "no extra options". Items are returned verbatim, without merging or
// catalog checks.
func Decode(raw string) (domain.Selection, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}

	var items []transportItem
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, false
	}

	sel := make(domain.Selection, 0, len(items))
	for _, item := range items {
		if item.Option == nil || item.Quantity == nil {
			return nil, false
		}
		sel = append(sel, domain.SelectionItem{Option: *item.Option, Quantity: *item.Quantity})
	}
	return sel, true
}
