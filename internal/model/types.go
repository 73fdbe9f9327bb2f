package model

import "strings"

// Callback is the validated form of a payment-provider callback body.
// Amount is kept as decoded (json.Number or string) so it can be normalized
// exactly the way the remote signer did.
type Callback struct {
	MerchantAccount   string `json:"merchantAccount"`
	OrderReference    string `json:"orderReference"`
	Amount            any    `json:"amount"`
	Currency          string `json:"currency"`
	MerchantSignature string `json:"merchantSignature"`
	TransactionStatus string `json:"transactionStatus"`
}

// TransactionApproved is the only status that triggers reconciliation.
const TransactionApproved = "Approved"

// Approved reports whether the callback confirms a successful payment.
func (c Callback) Approved() bool { return c.TransactionStatus == TransactionApproved }

// OrderEvent is the validated form of an order-created webhook.
type OrderEvent struct {
	ID              string
	Name            string
	OrderNumber     string
	Email           string
	Phone           string
	Currency        string
	Total           float64
	PaymentGateways []string
	ShippingAddress Address
	LineItems       []LineItem
	Note            string
}

// Reference is the identifier sent to the payment dispatcher as order_id.
func (e OrderEvent) Reference() string {
	if e.OrderNumber != "" {
		return e.OrderNumber
	}
	if e.Name != "" {
		return strings.TrimPrefix(e.Name, "#")
	}
	return e.ID
}

type Address struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
}

type LineItem struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
}

// Financial statuses reported by the order platform.
const (
	FinancialPending       = "PENDING"
	FinancialPartiallyPaid = "PARTIALLY_PAID"
	FinancialPaid          = "PAID"
	FinancialRefunded      = "REFUNDED"
)

// Order is the order platform's record as read through the admin API.
type Order struct {
	ID              string
	Name            string
	Email           string
	Phone           string
	Currency        string
	TotalPrice      float64
	FinancialStatus string
	Tags            []string
	ShippingAddress Address
	LineItems       []LineItem
	NoteAttributes  map[string]string
	Note            string
}

// Paid reports whether the platform already considers the order paid.
func (o Order) Paid() bool { return strings.EqualFold(o.FinancialStatus, FinancialPaid) }

// HasTag reports whether tag is present. Tags are case-sensitive.
func (o Order) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
