package stripe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Invoice payloads are read as generic JSON: the subscription reference has
// moved between API versions and stripe.Invoice only models the newest shape.

// invoiceView is the part of an invoice payload reconciliation needs.
type invoiceView struct {
	ID                    string
	CustomerID            string
	SubscriptionID        string
	SubscriptionSource    string
	FailedPaymentMethodID string
	LineMetadata          map[string]string
}

type subscriptionSource struct {
	name   string
	lookup func(invoice, line map[string]interface{}) string
}

// subscriptionChain is consulted in order; the first non-empty value wins.
var subscriptionChain = []subscriptionSource{
	{"line.parent.subscription_item_details", func(_, line map[string]interface{}) string {
		return idOf(dig(line, "parent", "subscription_item_details", "subscription"))
	}},
	{"invoice.subscription", func(invoice, _ map[string]interface{}) string {
		return idOf(invoice["subscription"])
	}},
	{"line.subscription", func(_, line map[string]interface{}) string {
		return idOf(line["subscription"])
	}},
	{"line.parent.invoice_item_details", func(_, line map[string]interface{}) string {
		return idOf(dig(line, "parent", "invoice_item_details", "subscription"))
	}},
}

// ResolveSubscriptionID walks the subscription fallback chain over a raw
// invoice payload. It reports false when no source carries an id or the
// payload is not a JSON object.
func ResolveSubscriptionID(raw []byte) (string, bool) {
	invoice, err := decodeObject(raw)
	if err != nil {
		return "", false
	}
	id, _ := resolveSubscription(invoice)
	return id, id != ""
}

func resolveSubscription(invoice map[string]interface{}) (id, source string) {
	line := firstLine(invoice)
	for _, src := range subscriptionChain {
		if id := src.lookup(invoice, line); id != "" {
			return id, src.name
		}
	}
	return "", ""
}

func parseInvoice(raw []byte) (*invoiceView, error) {
	invoice, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	view := &invoiceView{
		ID:                    idOf(invoice["id"]),
		CustomerID:            idOf(invoice["customer"]),
		FailedPaymentMethodID: failedPaymentMethod(invoice),
		LineMetadata:          stringMap(firstLine(invoice)["metadata"]),
	}
	view.SubscriptionID, view.SubscriptionSource = resolveSubscription(invoice)
	return view, nil
}

// failedPaymentMethod finds the instrument the invoice was last charged with.
func failedPaymentMethod(invoice map[string]interface{}) string {
	candidates := []interface{}{
		invoice["default_payment_method"],
		dig(invoice, "payment_intent", "last_payment_error", "payment_method"),
		dig(invoice, "payment_intent", "payment_method"),
	}
	for _, c := range candidates {
		if id := idOf(c); id != "" {
			return id
		}
	}
	return ""
}

func decodeObject(raw []byte) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return obj, nil
}

// firstLine returns lines.data[0] or an empty map.
func firstLine(invoice map[string]interface{}) map[string]interface{} {
	data, ok := dig(invoice, "lines", "data").([]interface{})
	if !ok || len(data) == 0 {
		return map[string]interface{}{}
	}
	line, ok := data[0].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return line
}

func dig(obj map[string]interface{}, path ...string) interface{} {
	var cur interface{} = obj
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// idOf accepts either a bare id string or an expanded object with an id.
func idOf(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]interface{}:
		if id, ok := t["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func stringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return out
}

// parseID reads a positive numeric id from metadata; anything else is 0.
func parseID(s string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
