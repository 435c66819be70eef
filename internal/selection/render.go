package selection

import (
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hanko-field/product-options/internal/domain"
)

const (
	itemSeparator = ", "
	qtySeparator  = " x "
)

var optionTextPolicy = bluemonday.StrictPolicy()

// Render formats sel as "{option} x {quantity}" entries joined by ", ". Option text is
// stripped of markup and HTML-escaped. ok is false for an empty selection, in which
// case nothing should be displayed.
func Render(sel domain.Selection) (string, bool) {
	if len(sel) == 0 {
		return "", false
	}
	var b strings.Builder
	for i, item := range sel {
		if i > 0 {
			b.WriteString(itemSeparator)
		}
		b.WriteString(SafeOptionText(item.Option))
		b.WriteString(qtySeparator)
		b.WriteString(strconv.Itoa(item.Quantity))
	}
	return b.String(), true
}

// SafeOptionText returns option with tags removed and special characters escaped.
func SafeOptionText(option string) string {
	return optionTextPolicy.Sanitize(strings.TrimSpace(option))
}
