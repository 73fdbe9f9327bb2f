// Package shipping submits paid orders to the post office intake API.
package shipping

import (
	"fmt"
	"strings"

	"orderbridge/internal/model"
)

// Submission is one order in the intake's bulk-insert schema.
type Submission struct {
	FirstName          string  `json:"FirstName"`
	LastName           string  `json:"LastName"`
	Address            string  `json:"Address"`
	AddressDetails     string  `json:"AddressDetails,omitempty"`
	Phone              string  `json:"Phone"`
	Width              float64 `json:"Width"`
	Length             float64 `json:"Length"`
	Height             float64 `json:"Height"`
	Weight             float64 `json:"Weight"`
	Openable           bool    `json:"Openable"`
	Fragile            bool    `json:"Fragile"`
	Declared           bool    `json:"Declared"`
	Exchangeable       bool    `json:"Exchangeable"`
	Invoice            bool    `json:"Invoice"`
	OrderPrice         float64 `json:"OrderPrice"`
	OrderDescription   string  `json:"OrderDescription,omitempty"`
	PackageDescription string  `json:"PackageDescription,omitempty"`
	Refid              string  `json:"Refid,omitempty"`
	SectionID          int     `json:"SectionId"`
	SellerID           int     `json:"SellerId"`
	UserID             int     `json:"UserId"`
	CountryID          int     `json:"CountryId"`
	CityLabel          string  `json:"CityLabel"`
	OrdersRealPrice    float64 `json:"OrdersRealPrice"`
}

// Dimensions fill in parcel size and weight the order does not carry.
type Dimensions struct {
	Width, Length, Height, Weight float64
}

// DefaultDimensions is a 20x20x20 cm, 1 kg parcel.
var DefaultDimensions = Dimensions{Width: 20, Length: 20, Height: 20, Weight: 1}

func (d Dimensions) withDefaults() Dimensions {
	if d.Width <= 0 {
		d.Width = DefaultDimensions.Width
	}
	if d.Length <= 0 {
		d.Length = DefaultDimensions.Length
	}
	if d.Height <= 0 {
		d.Height = DefaultDimensions.Height
	}
	if d.Weight <= 0 {
		d.Weight = DefaultDimensions.Weight
	}
	return d
}

// Country ids used by the intake.
const (
	CountryKosovo    = 1
	CountryAlbania   = 2
	CountryMacedonia = 3
)

// CountryID maps a country code or name; anything unknown ships as Kosovo.
func CountryID(codeOrName string) int {
	switch strings.ToLower(strings.TrimSpace(codeOrName)) {
	case "xk", "kosovo":
		return CountryKosovo
	case "al", "albania":
		return CountryAlbania
	case "mk", "nm", "north macedonia", "macedonia":
		return CountryMacedonia
	default:
		return CountryKosovo
	}
}

// BuildSubmission projects an order onto the intake schema.
func BuildSubmission(o model.Order, dims Dimensions) Submission {
	dims = dims.withDefaults()
	sa := o.ShippingAddress
	country := sa.CountryCode
	if country == "" {
		country = sa.Country
	}
	phone := sa.Phone
	if phone == "" {
		phone = o.Phone
	}
	return Submission{
		FirstName:          sa.FirstName,
		LastName:           sa.LastName,
		Address:            sa.Address1,
		AddressDetails:     sa.Address2,
		Phone:              phone,
		Width:              dims.Width,
		Length:             dims.Length,
		Height:             dims.Height,
		Weight:             dims.Weight,
		Openable:           true,
		OrderPrice:         o.TotalPrice,
		OrderDescription:   describe(o.LineItems),
		PackageDescription: o.Note,
		Refid:              strings.TrimPrefix(o.Name, "#"),
		SectionID:          -1,
		SellerID:           -1,
		UserID:             -1,
		CountryID:          CountryID(country),
		CityLabel:          sa.City,
		OrdersRealPrice:    o.TotalPrice,
	}
}

func describe(items []model.LineItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Title == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s x %d", it.Title, it.Quantity))
	}
	return strings.Join(parts, ", ")
}
