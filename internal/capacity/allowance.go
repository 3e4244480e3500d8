package capacity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"campaignservice/internal/models"
)

// Shape identifies which provider response layout was recognised
type Shape string

const (
	ShapeFlat     Shape = "flat"
	ShapeDaily    Shape = "daily"
	ShapeChannels Shape = "channels"
	ShapeEmpty    Shape = "empty"
)

type channelEntry struct {
	Channel   string          `json:"channel"`
	Remaining json.RawMessage `json:"remaining"`
}

// ParseAllowance normalizes an available-messages response into a canonical
// Allowance. Recognised layouts:
//
//	{"sms": 10, "EMAIL": 5}                      flat, any key casing
//	{"daily": {"sms": 10}}                       nested daily bucket
//	{"channels": [{"channel": "sms", "remaining": 10}]}
//
// Known channels are always present and default to 0. Non-numeric values
// count as 0. Anything that is not a JSON object is rejected.
func ParseAllowance(raw []byte) (Allowance, Shape, error) {
	out := make(Allowance, len(models.KnownChannels))
	for _, ch := range models.KnownChannels {
		out[ch] = 0
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, ShapeEmpty, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, "", fmt.Errorf("unsupported allowance payload: %w", err)
	}

	if daily, ok := obj["daily"]; ok && isObject(daily) {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(daily, &nested); err != nil {
			return nil, "", fmt.Errorf("unsupported daily allowance payload: %w", err)
		}
		mergeFlat(out, nested)
		return out, ShapeDaily, nil
	}

	if list, ok := obj["channels"]; ok && isArray(list) {
		var entries []channelEntry
		if err := json.Unmarshal(list, &entries); err != nil {
			return nil, "", fmt.Errorf("unsupported channel list payload: %w", err)
		}
		for _, e := range entries {
			if ch := strings.ToUpper(strings.TrimSpace(e.Channel)); ch != "" {
				out[models.Channel(ch)] = number(e.Remaining)
			}
		}
		return out, ShapeChannels, nil
	}

	mergeFlat(out, obj)
	return out, ShapeFlat, nil
}

// mergeFlat applies key/value pairs, letting an uppercase key win over its
// lowercase twin.
func mergeFlat(out Allowance, in map[string]json.RawMessage) {
	upperSeen := make(map[models.Channel]bool, len(in))
	for k, v := range in {
		ch := models.Channel(strings.ToUpper(k))
		isUpper := k == string(ch)
		if !isUpper && upperSeen[ch] {
			continue
		}
		if !isNumber(v) && !isKnown(ch) {
			continue
		}
		out[ch] = number(v)
		if isUpper {
			upperSeen[ch] = true
		}
	}
}

func isKnown(ch models.Channel) bool {
	for _, k := range models.KnownChannels {
		if k == ch {
			return true
		}
	}
	return false
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func isNumber(raw json.RawMessage) bool {
	var f float64
	return json.Unmarshal(raw, &f) == nil
}

func number(raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f < 0 {
		return 0
	}
	return int(f)
}
