package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/platform/httpx"
	"github.com/hanko-field/product-options/internal/platform/requestctx"
	"github.com/hanko-field/product-options/internal/selection"
	"github.com/hanko-field/product-options/internal/services"
)

const defaultMaxBodySize = 32 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// writeBodyError maps readLimitedBody failures onto the error envelope.
func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func decodeJSONObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if raw == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return raw, nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.TrimSpace(string(value)) == "null"
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// resolveLocale picks the identity locale claim, then Accept-Language, then the
// localizer default, and records the result on the request context.
func resolveLocale(r *http.Request, localizer *selection.Localizer) (*http.Request, string) {
	ctx := r.Context()
	var candidates []string
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		candidates = append(candidates, identity.Locale)
	}
	candidates = append(candidates, r.Header.Get("Accept-Language"))
	if localizer == nil {
		for _, candidate := range candidates {
			if trimmed := strings.TrimSpace(candidate); trimmed != "" {
				return r.WithContext(requestctx.WithLocale(ctx, trimmed)), trimmed
			}
		}
		return r, ""
	}
	locale := localizer.Match(candidates...).String()
	return r.WithContext(requestctx.WithLocale(ctx, locale)), locale
}

type selectionItemPayload struct {
	Option   string `json:"option"`
	Quantity int    `json:"quantity"`
}

type displayEntryPayload struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func selectionToPayload(sel services.Selection) []selectionItemPayload {
	items := make([]selectionItemPayload, 0, len(sel))
	for _, item := range sel {
		items = append(items, selectionItemPayload{Option: item.Option, Quantity: item.Quantity})
	}
	return items
}

func selectionFromPayload(items []selectionItemPayload) services.Selection {
	sel := make(services.Selection, 0, len(items))
	for _, item := range items {
		sel = append(sel, services.SelectionItem{Option: item.Option, Quantity: item.Quantity})
	}
	return sel
}

// decodeSelectionField accepts either an array of {option, quantity} or a transport
// string carrying the same array. A malformed transport string yields ok=false.
func decodeSelectionField(value json.RawMessage) (services.Selection, bool, error) {
	if isJSONNull(value) {
		return nil, false, nil
	}
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var transport string
		if err := json.Unmarshal(trimmed, &transport); err != nil {
			return nil, false, err
		}
		sel, ok := selection.Decode(transport)
		return sel, ok, nil
	}
	var items []selectionItemPayload
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false, errors.New("selection must be an array of {option, quantity}")
	}
	return selectionFromPayload(items), true, nil
}

func displayToPayload(entry *services.DisplayEntry) *displayEntryPayload {
	if entry == nil {
		return nil
	}
	return &displayEntryPayload{Label: entry.Label, Value: entry.Value}
}
