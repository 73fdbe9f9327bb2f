// Package webhooks signs and verifies the payloads exchanged with the payment
// dispatcher and the order platform.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"orderbridge/internal/model"
)

// ErrMissingSecret means the shared secret is not configured. It is never
// reported as a signature mismatch.
var ErrMissingSecret = errors.New("signing secret is not configured")

// NormalizeAmount renders an amount the way the dispatcher does before signing:
// the shortest decimal that round-trips, or "0" when the value is not a finite number.
func NormalizeAmount(v any) string {
	var f float64
	switch x := v.(type) {
	case nil:
		return "0"
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := strconv.ParseFloat(strings.TrimSpace(x.String()), 64)
		if err != nil {
			return "0"
		}
		f = p
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "0"
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "0"
		}
		f = p
	default:
		return "0"
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	return decimal.NewFromFloat(f).String()
}

// Sign returns lowercase hex of HMAC-SHA512 over fields joined with ";".
func Sign(secret string, fields ...string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(strings.Join(fields, ";")))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CallbackFields returns the signed fields of a callback in signing order.
func CallbackFields(cb model.Callback) []string {
	return []string{cb.MerchantAccount, cb.OrderReference, NormalizeAmount(cb.Amount), cb.Currency}
}

// VerifyCallback checks merchantSignature against
// merchantAccount;orderReference;amount;currency.
func VerifyCallback(cb model.Callback, secret string) (bool, error) {
	if secret == "" {
		return false, ErrMissingSecret
	}
	if cb.MerchantAccount == "" || cb.OrderReference == "" || cb.Currency == "" || cb.MerchantSignature == "" {
		return false, nil
	}
	expected, err := Sign(secret, CallbackFields(cb)...)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(cb.MerchantSignature)), nil
}

// VerifyHMAC checks a base64 HMAC-SHA256 of the raw body, as sent by the
// order platform in its webhook header.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	b, err := base64.StdEncoding.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), b)
}

// SignHMAC returns the base64 HMAC-SHA256 of body.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
