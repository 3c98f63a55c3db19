// Package broker - normalize.go handles permissive parsing of raw broker
// response payloads. Different Dhan endpoints (and the webhook postback)
// use different field names for the same data, so the execution engine
// never trusts a single key — it checks every known synonym before
// concluding a fill can't be detected.
package broker

// NormalizeFill extracts filled quantity and average fill price from a raw
// broker response map, trying every synonym key the Dhan API (and its
// postback variant) are known to use. ok is true only when both a
// positive quantity and a positive price were found.
func NormalizeFill(raw map[string]any) (qty int, price float64, ok bool) {
	qtyKeys := []string{"filled_quantity", "filledQty", "filled_qty", "FilledQty"}
	priceKeys := []string{"avg_price", "filled_price", "avgPrice", "AveragePrice"}

	for _, k := range qtyKeys {
		if v, found := asInt(raw[k]); found {
			qty = v
			break
		}
	}
	for _, k := range priceKeys {
		if v, found := asFloat(raw[k]); found {
			price = v
			break
		}
	}

	return qty, price, qty > 0 && price > 0
}

// IsFilledStatus reports whether status is one of the broker's known
// terminal-fill spellings.
func IsFilledStatus(status string) bool {
	switch status {
	case "filled", "complete", "filled_with_trade", "TRADED", "COMPLETE":
		return true
	default:
		return false
	}
}

// IsRejectedStatus reports whether status is one of the broker's known
// terminal-rejection spellings.
func IsRejectedStatus(status string) bool {
	switch status {
	case "rejected", "failed", "REJECTED":
		return true
	default:
		return false
	}
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
