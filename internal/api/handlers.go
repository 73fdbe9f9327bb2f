package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"orderbridge/internal/apperr"
	"orderbridge/internal/model"
	"orderbridge/internal/store"
	"orderbridge/internal/webhooks"
)

// TopicOrdersCreate is the only order webhook topic acted on.
const TopicOrdersCreate = "orders/create"

// CallbackHandler handles POST /callbacks/procard.
func (s *Server) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	cb, err := model.ParseCallback(body)
	if err != nil {
		s.Logger.Warn("invalid callback", zap.Error(err))
		writeProblem(w, http.StatusBadRequest, "Invalid callback", err.Error(), r.URL.Path)
		return
	}

	ctx, cancel := s.processingContext(r)
	defer cancel()
	if _, err := s.Callbacks.Handle(ctx, cb); err != nil {
		kind := apperr.KindOf(err)
		status := apperr.HTTPStatus(kind)
		detail := err.Error()
		if kind == apperr.KindConfiguration {
			detail = ""
		}
		writeProblem(w, status, http.StatusText(status), detail, r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// OrderCreatedHandler handles POST /webhooks/orders/create. Everything but a
// bad platform signature or a misconfiguration is acknowledged with an empty
// 200, since any other status makes the platform redeliver.
func (s *Server) OrderCreatedHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if s.WebhookSecret != "" && !webhooks.VerifyHMAC(s.WebhookSecret, body, r.Header.Get("X-Shopify-Hmac-Sha256")) {
		s.Logger.Warn("order webhook signature mismatch")
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid webhook signature", r.URL.Path)
		return
	}
	if topic := r.Header.Get("X-Shopify-Topic"); topic != "" && topic != TopicOrdersCreate {
		w.WriteHeader(http.StatusOK)
		return
	}
	ev, err := model.ParseOrderEvent(body)
	if err != nil {
		s.Logger.Warn("unreadable order event", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := s.processingContext(r)
	defer cancel()
	if _, err := s.Orders.Handle(ctx, ev); err != nil {
		if apperr.Is(err, apperr.KindConfiguration) {
			s.Logger.Error("payment link issuer misconfigured", zap.Error(err))
			writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "", r.URL.Path)
			return
		}
		s.Logger.Error("order event failed", zap.String("order_id", ev.ID), zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody()))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "", r.URL.Path)
			return nil, false
		}
		writeProblem(w, http.StatusBadRequest, "Unreadable body", err.Error(), r.URL.Path)
		return nil, false
	}
	return body, true
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.Store.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// EventsHandler handles GET /v1/admin/events?type=&orderId=&since=&cursor=&limit=
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := store.Query{Type: qs.Get("type"), OrderID: qs.Get("orderId"), Cursor: qs.Get("cursor")}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v, r.URL.Path)
			return
		}
		q.Limit = n
	}
	if v := qs.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid since", "RFC3339 timestamp expected", r.URL.Path)
			return
		}
		q.Since = t
	}
	items, next, err := s.Store.ListEvents(r.Context(), q)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusBadRequest, "Unknown cursor", q.Cursor, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List events failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// EventsStreamHandler streams outcome events as server-sent events.
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.Broker == nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "event stream disabled", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	typ := r.URL.Query().Get("type")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe()
	defer s.Broker.Unsubscribe(ch)
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-ch:
			if !open {
				return
			}
			if typ != "" && !strings.EqualFold(typ, e.Type) {
				continue
			}
			b, _ := json.Marshal(e)
			fmt.Fprintf(w, "event: %s\n", e.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
