package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderbridge/internal/apperr"
	"orderbridge/internal/events"
	"orderbridge/internal/ledger"
	"orderbridge/internal/model"
	"orderbridge/internal/platform"
	"orderbridge/internal/webhooks"
)

const secret = "k"

var tags = Tags{Shipped: "sent_to_postoffice", Paid: "paid_procard", LinkSent: "procard_link_sent"}

// fakeShop is an in-memory order platform that counts side-effect calls.
type fakeShop struct {
	mu       sync.Mutex
	orders   map[string]*model.Order
	markPaid int
	notes    map[string]string
	markErr  error
	tagErr   error
}

func newFakeShop(orders ...model.Order) *fakeShop {
	s := &fakeShop{orders: map[string]*model.Order{}, notes: map[string]string{}}
	for i := range orders {
		o := orders[i]
		s.orders[o.ID] = &o
	}
	return s
}

func (s *fakeShop) FindOrderByReference(_ context.Context, ref string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Name == "#"+ref || o.Name == ref {
			return *o, nil
		}
	}
	return model.Order{}, apperr.NotFound("find order", platform.ErrOrderNotFound)
}

func (s *fakeShop) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, apperr.NotFound("get order", platform.ErrOrderNotFound)
	}
	return *o, nil
}

func (s *fakeShop) MarkPaid(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.markPaid++
	s.orders[id].FinancialStatus = model.FinancialPaid
	return nil
}

func (s *fakeShop) ReadTags(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.orders[id].Tags...), nil
}

func (s *fakeShop) WriteTags(_ context.Context, id string, t []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tagErr != nil {
		return s.tagErr
	}
	s.orders[id].Tags = append([]string(nil), t...)
	return nil
}

func (s *fakeShop) SetNoteAttribute(_ context.Context, id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[id+"/"+key] = value
	return nil
}

func (s *fakeShop) tags(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Tags
}

type fakeShipper struct {
	calls int
	err   error
}

func (f *fakeShipper) Submit(context.Context, model.Order) error {
	f.calls++
	return f.err
}

type recordingSink struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func (r *recordingSink) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.got {
		out = append(out, e.Outcome)
	}
	return out
}

func order1001() model.Order {
	return model.Order{ID: "5001", Name: "#1001", FinancialStatus: model.FinancialPending, Tags: []string{"vip"}}
}

func signedCallback(t *testing.T) model.Callback {
	t.Helper()
	cb := model.Callback{MerchantAccount: "M1", OrderReference: "1001", Amount: 49.9, Currency: "EUR", TransactionStatus: "Approved"}
	sig, err := webhooks.Sign(secret, "M1", "1001", "49.9", "EUR")
	require.NoError(t, err)
	cb.MerchantSignature = sig
	return cb
}

func newReconciler(shop *fakeShop, ship *fakeShipper, sink events.Sink) *CallbackReconciler {
	return &CallbackReconciler{
		Secret:  secret,
		Orders:  shop,
		Shipper: ship,
		Markers: ledger.NewTagLedger(shop),
		Locker:  ledger.NewMemoryLocker(),
		Tags:    tags,
		Events:  sink,
		Logger:  zap.NewNop(),
	}
}

func TestCallbackFirstDeliveryAndRedelivery(t *testing.T) {
	shop := newFakeShop(order1001())
	ship := &fakeShipper{}
	sink := &recordingSink{}
	r := newReconciler(shop, ship, sink)
	cb := signedCallback(t)

	out, err := r.Handle(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: StatusProcessed, OrderID: "5001", Paid: true, Shipped: true}, out)
	assert.Equal(t, 1, shop.markPaid)
	assert.Equal(t, 1, ship.calls)
	assert.Equal(t, []string{"vip", "sent_to_postoffice", "paid_procard"}, shop.tags("5001"))

	out, err = r.Handle(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: StatusProcessed, OrderID: "5001"}, out)
	assert.Equal(t, 1, shop.markPaid)
	assert.Equal(t, 1, ship.calls)
	assert.Equal(t, []string{"processed", "processed"}, sink.outcomes())
}

func TestCallbackWrongSignature(t *testing.T) {
	shop := newFakeShop(order1001())
	ship := &fakeShipper{}
	sink := &recordingSink{}
	cb := signedCallback(t)
	sig := []byte(cb.MerchantSignature)
	if sig[0] == '0' {
		sig[0] = '1'
	} else {
		sig[0] = '0'
	}
	cb.MerchantSignature = string(sig)

	_, err := newReconciler(shop, ship, sink).Handle(context.Background(), cb)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Zero(t, shop.markPaid)
	assert.Zero(t, ship.calls)
	assert.Equal(t, []string{"unauthorized"}, sink.outcomes())
}

func TestCallbackMissingSecret(t *testing.T) {
	shop := newFakeShop(order1001())
	r := newReconciler(shop, &fakeShipper{}, nil)
	r.Secret = ""
	_, err := r.Handle(context.Background(), signedCallback(t))
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	assert.ErrorIs(t, err, webhooks.ErrMissingSecret)
}

func TestCallbackNotApprovedIsNoop(t *testing.T) {
	shop := newFakeShop(order1001())
	ship := &fakeShipper{}
	cb := signedCallback(t)
	cb.TransactionStatus = "Declined"

	out, err := newReconciler(shop, ship, nil).Handle(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, out.Status)
	assert.Zero(t, shop.markPaid)
	assert.Zero(t, ship.calls)
}

func TestCallbackOrderNotFound(t *testing.T) {
	shop := newFakeShop()
	_, err := newReconciler(shop, &fakeShipper{}, nil).Handle(context.Background(), signedCallback(t))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCallbackMarkPaidFailure(t *testing.T) {
	shop := newFakeShop(order1001())
	shop.markErr = errors.New("graphql down")
	ship := &fakeShipper{}

	_, err := newReconciler(shop, ship, nil).Handle(context.Background(), signedCallback(t))
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Zero(t, ship.calls)
}

func TestCallbackShippingFailureThenResume(t *testing.T) {
	shop := newFakeShop(order1001())
	ship := &fakeShipper{err: apperr.Upstream("submit", errors.New("status 500"))}
	r := newReconciler(shop, ship, nil)

	out, err := r.Handle(context.Background(), signedCallback(t))
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.True(t, out.Paid)
	assert.Equal(t, []string{"vip"}, shop.tags("5001"))

	ship.err = nil
	out, err = r.Handle(context.Background(), signedCallback(t))
	require.NoError(t, err)
	assert.False(t, out.Paid)
	assert.True(t, out.Shipped)
	assert.Equal(t, 1, shop.markPaid)
	assert.Equal(t, 2, ship.calls)
}

func TestCallbackAlreadyShippedSkipsSubmission(t *testing.T) {
	o := order1001()
	o.FinancialStatus = model.FinancialPaid
	o.Tags = []string{"sent_to_postoffice"}
	shop := newFakeShop(o)
	ship := &fakeShipper{}

	out, err := newReconciler(shop, ship, nil).Handle(context.Background(), signedCallback(t))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, out.Status)
	assert.Zero(t, ship.calls)
	assert.Zero(t, shop.markPaid)
}

func TestCallbackTagWriteFailureStillSucceeds(t *testing.T) {
	shop := newFakeShop(order1001())
	shop.tagErr = errors.New("throttled")
	ship := &fakeShipper{}

	out, err := newReconciler(shop, ship, nil).Handle(context.Background(), signedCallback(t))
	require.NoError(t, err)
	assert.True(t, out.Shipped)
	assert.Equal(t, []string{"vip"}, shop.tags("5001"))
}

func TestCallbackLeaseHeld(t *testing.T) {
	shop := newFakeShop(order1001())
	ship := &fakeShipper{}
	r := newReconciler(shop, ship, nil)
	release, err := r.Locker.Acquire(context.Background(), "order:5001", time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = r.Handle(context.Background(), signedCallback(t))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.ErrorIs(t, err, ledger.ErrLeaseHeld)
	assert.Zero(t, shop.markPaid)
}

func TestCallbackNilLockerAndSink(t *testing.T) {
	shop := newFakeShop(order1001())
	r := newReconciler(shop, &fakeShipper{}, nil)
	r.Locker = nil
	_, err := r.Handle(context.Background(), signedCallback(t))
	require.NoError(t, err)
}

func TestCallbackShippingUnset(t *testing.T) {
	unset := apperr.Configuration("config", errors.New("missing POSTOFFICE_BASE_URL"))

	t.Run("marks paid then fails at shipping", func(t *testing.T) {
		shop := newFakeShop(order1001())
		ship := &fakeShipper{}
		r := newReconciler(shop, ship, nil)
		r.ShippingUnset = unset

		out, err := r.Handle(context.Background(), signedCallback(t))
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConfiguration))
		assert.True(t, out.Paid)
		assert.Equal(t, 1, shop.markPaid)
		assert.Zero(t, ship.calls)
		assert.Equal(t, []string{"vip"}, shop.tags("5001"))
	})

	t.Run("already shipped succeeds", func(t *testing.T) {
		o := order1001()
		o.FinancialStatus = model.FinancialPaid
		o.Tags = []string{tags.Shipped}
		r := newReconciler(newFakeShop(o), &fakeShipper{}, nil)
		r.ShippingUnset = unset

		out, err := r.Handle(context.Background(), signedCallback(t))
		require.NoError(t, err)
		assert.Equal(t, StatusProcessed, out.Status)
	})

	t.Run("checks run first", func(t *testing.T) {
		r := newReconciler(newFakeShop(order1001()), &fakeShipper{}, nil)
		r.ShippingUnset = unset

		cb := signedCallback(t)
		cb.TransactionStatus = "Declined"
		out, err := r.Handle(context.Background(), cb)
		require.NoError(t, err)
		assert.Equal(t, StatusIgnored, out.Status)

		cb = signedCallback(t)
		cb.Currency = "USD"
		_, err = r.Handle(context.Background(), cb)
		assert.True(t, apperr.Is(err, apperr.KindAuthentication))
	})

	t.Run("nil shipper", func(t *testing.T) {
		r := newReconciler(newFakeShop(order1001()), nil, nil)
		r.Shipper = nil
		_, err := r.Handle(context.Background(), signedCallback(t))
		assert.ErrorIs(t, err, ErrShippingUnset)
	})
}
