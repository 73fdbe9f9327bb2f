package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidJSON      = errors.New("invalid JSON body")
	ErrMissingReference = errors.New("orderReference is required")
	ErrMissingOrderID   = errors.New("order id is required")
)

// ParseCallback decodes a callback body. It fails on malformed JSON and on a
// missing orderReference; every other field is optional at this stage.
func ParseCallback(body []byte) (Callback, error) {
	m, err := decodeObject(body)
	if err != nil {
		return Callback{}, err
	}
	cb := Callback{
		MerchantAccount:   raw(m["merchantAccount"]),
		OrderReference:    raw(m["orderReference"]),
		Amount:            m["amount"],
		Currency:          raw(m["currency"]),
		MerchantSignature: raw(m["merchantSignature"]),
		TransactionStatus: str(m["transactionStatus"]),
	}
	if strings.TrimSpace(cb.OrderReference) == "" {
		return Callback{}, ErrMissingReference
	}
	return cb, nil
}

// totalFields lists where an order total may live, in priority order.
var totalFields = [][]string{
	{"current_total_price"},
	{"total_price"},
	{"total_price_set", "shop_money", "amount"},
	{"current_total_price_set", "shop_money", "amount"},
	{"subtotal_price"},
}

// ParseOrderEvent decodes an order-created webhook. The total is the first
// finite numeric value among totalFields, falling back to 0.
func ParseOrderEvent(body []byte) (OrderEvent, error) {
	m, err := decodeObject(body)
	if err != nil {
		return OrderEvent{}, err
	}
	ev := OrderEvent{
		ID:          str(m["id"]),
		Name:        str(m["name"]),
		OrderNumber: str(m["order_number"]),
		Email:       firstNonEmpty(str(m["email"]), str(m["contact_email"])),
		Currency:    firstNonEmpty(str(m["currency"]), str(m["presentment_currency"])),
		Note:        str(m["note"]),
	}
	if ev.ID == "" {
		return OrderEvent{}, ErrMissingOrderID
	}
	for _, path := range totalFields {
		if f, ok := number(dig(m, path...)); ok {
			ev.Total = f
			break
		}
	}
	if gw, ok := m["payment_gateway_names"].([]any); ok {
		for _, g := range gw {
			if s := str(g); s != "" {
				ev.PaymentGateways = append(ev.PaymentGateways, s)
			}
		}
	}
	if sa, ok := m["shipping_address"].(map[string]any); ok {
		ev.ShippingAddress = parseAddress(sa)
	}
	ev.Phone = firstNonEmpty(str(m["phone"]), ev.ShippingAddress.Phone)
	if items, ok := m["line_items"].([]any); ok {
		for _, it := range items {
			li, ok := it.(map[string]any)
			if !ok {
				continue
			}
			q, _ := number(li["quantity"])
			ev.LineItems = append(ev.LineItems, LineItem{Title: str(li["title"]), Quantity: int(q)})
		}
	}
	return ev, nil
}

func parseAddress(m map[string]any) Address {
	return Address{
		FirstName:   str(m["first_name"]),
		LastName:    str(m["last_name"]),
		Address1:    str(m["address1"]),
		Address2:    str(m["address2"]),
		City:        str(m["city"]),
		Country:     str(m["country"]),
		CountryCode: str(m["country_code"]),
		Phone:       str(m["phone"]),
	}
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, ErrInvalidJSON
	}
	return m, nil
}

func dig(m map[string]any, path ...string) any {
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[p]
	}
	return cur
}

// str coerces scalar JSON values to their trimmed string form.
func str(v any) string {
	return strings.TrimSpace(raw(v))
}

// raw is str without trimming. Signed fields must reach the verifier as sent.
func raw(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// number reports a finite numeric value from a JSON number or numeric string.
func number(v any) (float64, bool) {
	var f float64
	var err error
	switch x := v.(type) {
	case json.Number:
		f, err = x.Float64()
	case float64:
		f = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
