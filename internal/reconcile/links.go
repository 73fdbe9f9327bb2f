package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orderbridge/internal/events"
	"orderbridge/internal/ledger"
	"orderbridge/internal/mailer"
	"orderbridge/internal/metrics"
	"orderbridge/internal/model"
	"orderbridge/internal/procard"
	"orderbridge/internal/webhooks"
)

// PaymentURLAttribute is the order note attribute holding the issued link.
const PaymentURLAttribute = "procard_payment_url"

// Purchaser submits purchase requests to the card dispatcher.
type Purchaser interface {
	Purchase(ctx context.Context, req procard.PurchaseRequest) (procard.PurchaseResponse, error)
}

// NoteWriter stores a key/value note attribute on an order.
type NoteWriter interface {
	SetNoteAttribute(ctx context.Context, id, key, value string) error
}

type LinkStatus string

const (
	LinkIssued      LinkStatus = "issued"
	LinkIneligible  LinkStatus = "ineligible"
	LinkAlreadySent LinkStatus = "already_sent"
	LinkBusy        LinkStatus = "busy"
	LinkRefused     LinkStatus = "refused"
	LinkFailed      LinkStatus = "failed"
)

// LinkOutcome reports what one order-created event did.
type LinkOutcome struct {
	Status  LinkStatus
	OrderID string
	URL     string
	Emailed bool
}

// PaymentLinkIssuer requests a card payment link for orders placed through a
// manual gateway and stores it on the order. Failures are reported through
// logs, metrics and events only; the source webhook is always acknowledged.
//
// DispatcherUnset, when non-nil, reports why the dispatcher settings are
// incomplete. Eligible orders then fail with a configuration error.
type PaymentLinkIssuer struct {
	Settings        procard.Settings
	Description     string
	Gateways        []string
	Dispatcher      Purchaser
	DispatcherUnset error
	Notes           NoteWriter
	Markers         ledger.IdempotencyStore
	Mailer          mailer.Mailer
	Locker          ledger.Locker
	LeaseTTL        time.Duration
	Tags            Tags
	Events          events.Sink
	Logger          *zap.Logger
}

// Eligible reports whether any of gateways matches allow, ignoring case and
// surrounding space.
func Eligible(gateways, allow []string) bool {
	for _, g := range gateways {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		for _, a := range allow {
			if strings.EqualFold(g, strings.TrimSpace(a)) {
				return true
			}
		}
	}
	return false
}

// Handle returns an error only when the issuer itself is misconfigured.
func (i *PaymentLinkIssuer) Handle(ctx context.Context, ev model.OrderEvent) (out LinkOutcome, err error) {
	out.OrderID = ev.ID
	log := i.Logger.With(zap.String("order_id", ev.ID), zap.String("reference", ev.Reference()))
	defer func() { i.finish(ctx, log, ev, out, err) }()

	if !Eligible(ev.PaymentGateways, i.Gateways) {
		out.Status = LinkIneligible
		return out, nil
	}
	if i.DispatcherUnset != nil || i.Dispatcher == nil {
		out.Status = LinkFailed
		return out, notConfigured("issue payment link", i.DispatcherUnset, ErrDispatcherUnset)
	}

	locker := i.Locker
	if locker == nil {
		locker = ledger.NopLocker{}
	}
	release, lerr := locker.Acquire(ctx, "link:"+ev.ID, leaseTTL(i.LeaseTTL))
	if lerr != nil {
		out.Status = LinkBusy
		log.Warn("payment link lease held", zap.Error(lerr))
		return out, nil
	}
	defer release()

	sent, merr := i.Markers.HasMarker(ctx, ev.ID, i.Tags.LinkSent)
	if merr != nil {
		out.Status = LinkFailed
		log.Error("failed to read link marker", zap.Error(merr))
		return out, nil
	}
	if sent {
		out.Status = LinkAlreadySent
		return out, nil
	}

	req, err := procard.NewPurchaseRequest(i.Settings, procard.Purchase{
		OrderID:     ev.Reference(),
		Amount:      ev.Total,
		Currency:    ev.Currency,
		Description: i.describe(ev),
		Email:       ev.Email,
	})
	if err != nil {
		out.Status = LinkFailed
		return out, err
	}

	resp, perr := i.Dispatcher.Purchase(ctx, req)
	if perr != nil {
		out.Status = LinkFailed
		log.Error("purchase request failed", zap.Error(perr))
		return out, nil
	}
	if !resp.OK() {
		out.Status = LinkRefused
		result := -1
		if resp.Result != nil {
			result = *resp.Result
		}
		log.Warn("dispatcher refused purchase", zap.Int("result", result), zap.String("message", resp.Message))
		return out, nil
	}
	out.URL = resp.URL

	if err := i.Notes.SetNoteAttribute(ctx, ev.ID, PaymentURLAttribute, resp.URL); err != nil {
		out.Status = LinkFailed
		log.Error("failed to store payment url", zap.Error(err))
		return out, nil
	}
	if err := i.Markers.AddMarker(ctx, ev.ID, i.Tags.LinkSent); err != nil {
		out.Status = LinkFailed
		log.Error("failed to record link marker", zap.Error(err))
		return out, nil
	}
	out.Status = LinkIssued

	if strings.TrimSpace(ev.Email) == "" {
		log.Info("order has no email; invoice not sent")
		return out, nil
	}
	inv := mailer.Invoice{
		To:         ev.Email,
		OrderName:  ev.Name,
		Amount:     webhooks.NormalizeAmount(ev.Total),
		Currency:   ev.Currency,
		PaymentURL: resp.URL,
	}
	if err := i.Mailer.SendInvoice(ctx, inv); err != nil {
		metrics.SideEffects.WithLabelValues("invoice_email", "failed").Inc()
		log.Error("failed to send invoice email", zap.Error(err))
		return out, nil
	}
	metrics.SideEffects.WithLabelValues("invoice_email", "done").Inc()
	out.Emailed = true
	return out, nil
}

func (i *PaymentLinkIssuer) describe(ev model.OrderEvent) string {
	if strings.Contains(i.Description, "%s") {
		return fmt.Sprintf(i.Description, ev.Reference())
	}
	if i.Description == "" {
		return "Order #" + ev.Reference()
	}
	return i.Description
}

func (i *PaymentLinkIssuer) finish(ctx context.Context, log *zap.Logger, ev model.OrderEvent, out LinkOutcome, err error) {
	metrics.PaymentLinks.WithLabelValues(string(out.Status)).Inc()
	switch {
	case err != nil:
		log.Error("payment link failed", zap.String("outcome", string(out.Status)), zap.String("step", stepOf(err)), zap.Error(err))
	case out.Status == LinkIneligible || out.Status == LinkAlreadySent:
		log.Debug("payment link skipped", zap.String("outcome", string(out.Status)))
	default:
		log.Info("payment link handled", zap.String("outcome", string(out.Status)), zap.Bool("emailed", out.Emailed))
	}
	e := events.New(events.TypePaymentLink, string(out.Status))
	e.OrderID = ev.ID
	e.Reference = ev.Reference()
	switch {
	case err != nil:
		e.Detail = err.Error()
	case out.URL != "":
		e.Detail = out.URL
	}
	publish(ctx, i.Events, log, e)
}
