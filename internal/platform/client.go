// Package platform talks to the storefront's GraphQL admin API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderbridge/internal/apperr"
	"orderbridge/internal/auth"
	"orderbridge/internal/metrics"
	"orderbridge/internal/model"
)

// ErrOrderNotFound is returned when a reference resolves to no order.
var ErrOrderNotFound = errors.New("order not found")

const orderGIDPrefix = "gid://shopify/Order/"

// Client is a minimal GraphQL admin client.
type Client struct {
	BaseURL    string
	APIVersion string
	Tokens     *auth.TokenCache
	HTTP       *http.Client
	Now        func() time.Time
}

// BaseURL turns a shop domain into https://{domain}; full URLs pass through.
func BaseURL(domain string) string {
	base := domain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimRight(base, "/")
}

// NewClient builds a client for BaseURL(domain).
func NewClient(domain, apiVersion string, tokens *auth.TokenCache, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    BaseURL(domain),
		APIVersion: apiVersion,
		Tokens:     tokens,
		HTTP:       &http.Client{Timeout: timeout},
		Now:        time.Now,
	}
}

// OrderGID converts a numeric id to its global id; global ids pass through.
func OrderGID(id string) string {
	if strings.HasPrefix(id, "gid://") {
		return id
	}
	return orderGIDPrefix + id
}

type gqlError struct {
	Message string `json:"message"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

func userErrs(op string, errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return apperr.Upstream(op, errors.New(strings.Join(msgs, "; ")))
}

func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.UpstreamLatency.WithLabelValues("platform", status).Observe(float64(time.Since(start).Milliseconds()))
	}()

	tok, err := c.Tokens.GetOrRefresh(ctx, c.Now())
	if err != nil {
		return apperr.Upstream(op, fmt.Errorf("access token: %w", err))
	}
	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return apperr.E(apperr.KindUnknown, op, err)
	}
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.BaseURL, c.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperr.E(apperr.KindUnknown, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", tok)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperr.Upstream(op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	status = strconv.Itoa(resp.StatusCode)
	if resp.StatusCode == http.StatusUnauthorized {
		c.Tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Upstream(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	var env struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperr.Upstream(op, fmt.Errorf("decode: %w", err))
	}
	if len(env.Errors) > 0 {
		return apperr.Upstream(op, errors.New(env.Errors[0].Message))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Upstream(op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

const orderFields = `
  id
  name
  email
  phone
  currencyCode
  displayFinancialStatus
  tags
  note
  customAttributes { key value }
  totalPriceSet { shopMoney { amount } }
  shippingAddress { firstName lastName address1 address2 city country countryCodeV2 phone }
  lineItems(first: 100) { nodes { title quantity } }
`

type gqlOrder struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Email                  string   `json:"email"`
	Phone                  string   `json:"phone"`
	CurrencyCode           string   `json:"currencyCode"`
	DisplayFinancialStatus string   `json:"displayFinancialStatus"`
	Tags                   []string `json:"tags"`
	Note                   string   `json:"note"`
	CustomAttributes       []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"customAttributes"`
	TotalPriceSet struct {
		ShopMoney struct {
			Amount string `json:"amount"`
		} `json:"shopMoney"`
	} `json:"totalPriceSet"`
	ShippingAddress *struct {
		FirstName     string `json:"firstName"`
		LastName      string `json:"lastName"`
		Address1      string `json:"address1"`
		Address2      string `json:"address2"`
		City          string `json:"city"`
		Country       string `json:"country"`
		CountryCodeV2 string `json:"countryCodeV2"`
		Phone         string `json:"phone"`
	} `json:"shippingAddress"`
	LineItems struct {
		Nodes []model.LineItem `json:"nodes"`
	} `json:"lineItems"`
}

func (g gqlOrder) toModel() model.Order {
	o := model.Order{
		ID:              g.ID,
		Name:            g.Name,
		Email:           g.Email,
		Phone:           g.Phone,
		Currency:        g.CurrencyCode,
		FinancialStatus: g.DisplayFinancialStatus,
		Tags:            g.Tags,
		Note:            g.Note,
		LineItems:       g.LineItems.Nodes,
		NoteAttributes:  map[string]string{},
	}
	o.TotalPrice, _ = strconv.ParseFloat(g.TotalPriceSet.ShopMoney.Amount, 64)
	for _, a := range g.CustomAttributes {
		o.NoteAttributes[a.Key] = a.Value
	}
	if sa := g.ShippingAddress; sa != nil {
		o.ShippingAddress = model.Address{
			FirstName:   sa.FirstName,
			LastName:    sa.LastName,
			Address1:    sa.Address1,
			Address2:    sa.Address2,
			City:        sa.City,
			Country:     sa.Country,
			CountryCode: sa.CountryCodeV2,
			Phone:       sa.Phone,
		}
	}
	return o
}

// GetOrder fetches the full order record.
func (c *Client) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var data struct {
		Order *gqlOrder `json:"order"`
	}
	q := `query($id: ID!) { order(id: $id) {` + orderFields + `} }`
	if err := c.do(ctx, "get order", q, map[string]any{"id": OrderGID(id)}, &data); err != nil {
		return model.Order{}, err
	}
	if data.Order == nil {
		return model.Order{}, apperr.NotFound("get order", ErrOrderNotFound)
	}
	return data.Order.toModel(), nil
}

// FindOrderByReference resolves an order number ("1001" or "#1001"), falling
// back to treating a numeric reference as the order id.
func (c *Client) FindOrderByReference(ctx context.Context, ref string) (model.Order, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if strings.HasPrefix(ref, "gid://") {
		return c.GetOrder(ctx, ref)
	}
	var data struct {
		Orders struct {
			Nodes []gqlOrder `json:"nodes"`
		} `json:"orders"`
	}
	q := `query($q: String!) { orders(first: 1, query: $q) { nodes {` + orderFields + `} } }`
	search := fmt.Sprintf("name:#%s OR name:%s", ref, ref)
	if err := c.do(ctx, "find order", q, map[string]any{"q": search}, &data); err != nil {
		return model.Order{}, err
	}
	if len(data.Orders.Nodes) > 0 {
		return data.Orders.Nodes[0].toModel(), nil
	}
	if _, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return c.GetOrder(ctx, ref)
	}
	return model.Order{}, apperr.NotFound("find order", ErrOrderNotFound)
}

// MarkPaid records the outstanding balance as paid. The platform treats an
// already paid order as a no-op.
func (c *Client) MarkPaid(ctx context.Context, id string) error {
	var data struct {
		OrderMarkAsPaid struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"orderMarkAsPaid"`
	}
	q := `mutation($input: OrderMarkAsPaidInput!) { orderMarkAsPaid(input: $input) { order { id displayFinancialStatus } userErrors { field message } } }`
	if err := c.do(ctx, "mark paid", q, map[string]any{"input": map[string]any{"id": OrderGID(id)}}, &data); err != nil {
		return err
	}
	return userErrs("mark paid", data.OrderMarkAsPaid.UserErrors)
}

type orderUpdate struct {
	OrderUpdate struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"orderUpdate"`
}

const orderUpdateMutation = `mutation($input: OrderInput!) { orderUpdate(input: $input) { order { id } userErrors { field message } } }`

// ReadTags returns the order's current tags.
func (c *Client) ReadTags(ctx context.Context, id string) ([]string, error) {
	var data struct {
		Order *struct {
			Tags []string `json:"tags"`
		} `json:"order"`
	}
	q := `query($id: ID!) { order(id: $id) { tags } }`
	if err := c.do(ctx, "read tags", q, map[string]any{"id": OrderGID(id)}, &data); err != nil {
		return nil, err
	}
	if data.Order == nil {
		return nil, apperr.NotFound("read tags", ErrOrderNotFound)
	}
	return data.Order.Tags, nil
}

// WriteTags replaces the order's tag set.
func (c *Client) WriteTags(ctx context.Context, id string, tags []string) error {
	var data orderUpdate
	in := map[string]any{"id": OrderGID(id), "tags": tags}
	if err := c.do(ctx, "write tags", orderUpdateMutation, map[string]any{"input": in}, &data); err != nil {
		return err
	}
	return userErrs("write tags", data.OrderUpdate.UserErrors)
}

// SetNoteAttribute sets one note attribute, keeping the others.
func (c *Client) SetNoteAttribute(ctx context.Context, id, key, value string) error {
	o, err := c.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	attrs := make([]map[string]string, 0, len(o.NoteAttributes)+1)
	for k, v := range o.NoteAttributes {
		if k != key {
			attrs = append(attrs, map[string]string{"key": k, "value": v})
		}
	}
	attrs = append(attrs, map[string]string{"key": key, "value": value})
	var data orderUpdate
	in := map[string]any{"id": OrderGID(id), "customAttributes": attrs}
	if err := c.do(ctx, "set note attribute", orderUpdateMutation, map[string]any{"input": in}, &data); err != nil {
		return err
	}
	return userErrs("set note attribute", data.OrderUpdate.UserErrors)
}
