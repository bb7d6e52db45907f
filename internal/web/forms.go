package web

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseConfigJSON parses a free-form JSON config field. Empty or
// absent input means an empty object. Valid JSON that is not an
// object (arrays, scalars) and malformed JSON are rejected with
// distinct messages.
func ParseConfigJSON(raw string) (map[string]any, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, ""
	}
	var probe any
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, "invalid JSON"
	}
	obj, ok := probe.(map[string]any)
	if !ok {
		return nil, "must be a JSON object"
	}
	return obj, ""
}

// ParsePrice parses a decimal price field leniently: a parseable
// value is kept, anything else (including blank) means no price.
func ParsePrice(raw string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// ParseOptionalInt parses an integer field, absent on blank or
// unparseable input.
func ParseOptionalInt(raw string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &n
}

// ParseOptionalFloat parses a float field, absent on blank or
// unparseable input.
func ParseOptionalFloat(raw string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &f
}

// formValues flattens form values into the map echoed back into an
// editing form after a validation failure. The write-only api_key
// field is dropped so it never round-trips.
func formValues(form url.Values) map[string]string {
	values := make(map[string]string, len(form))
	for key := range form {
		if key == "api_key" || key == "password" {
			continue
		}
		values[key] = form.Get(key)
	}
	return values
}
