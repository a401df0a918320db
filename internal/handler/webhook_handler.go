package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"bikeshop/internal/audit"
	"bikeshop/internal/model"
	"bikeshop/internal/payment"
	"bikeshop/internal/service"

	"github.com/rs/zerolog"
)

const (
	maxCallbackBytes = 64 << 10
	archiveTimeout   = 5 * time.Second
	topicPayment     = "payment"
)

// archivedHeaders is the subset of callback headers kept in the audit archive.
var archivedHeaders = []string{"Content-Type", "User-Agent", "X-Request-Id", "X-Signature"}

// callbackID accepts the payment id as a JSON string or number.
type callbackID string

func (id *callbackID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = callbackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = callbackID(n.String())
	return nil
}

type callbackPayload struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID callbackID `json:"id"`
	} `json:"data"`
}

// WebhookHandler receives payment gateway callbacks.
type WebhookHandler struct {
	reconciler service.ReconciliationService
	archive    audit.Archive
	secret     string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewWebhookHandler creates a webhook handler. An empty secret disables
// signature verification.
func NewWebhookHandler(reconciler service.ReconciliationService, archive audit.Archive, secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		archive:    archive,
		secret:     secret,
		logger:     logger.With().Str("handler", "webhook").Logger(),
		now:        time.Now,
	}
}

// Handle handles POST /api/webhook requests. It answers 200 for every outcome
// the store has settled, 500 when the gateway should redeliver and 401 when the
// signature does not verify.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidJSON, "unreadable callback body", h.logger)
		return
	}

	topic, dataID := parseCallback(r, body)
	requestID := r.Header.Get("X-Request-Id")
	rec := &audit.Record{
		ReceivedAt: h.now().UTC(),
		RequestID:  requestID,
		Topic:      topic,
		DataID:     dataID,
		Headers:    pickHeaders(r.Header),
		Body:       rawBody(body),
	}

	log := h.logger.With().Str("topic", topic).Str("payment_id", dataID).Logger()

	if err := payment.VerifySignature(h.secret, r.Header.Get("X-Signature"), requestID, dataID); err != nil {
		rec.Outcome = "rejected_signature"
		h.store(r.Context(), rec, log)
		writeError(w, http.StatusUnauthorized, model.ErrCodeUnauthorised, "invalid signature", log)
		return
	}

	if topic != topicPayment {
		rec.Outcome = string(service.OutcomeIgnored)
		h.store(r.Context(), rec, log)
		log.Debug().Msg("non-payment callback acknowledged")
		writeJSON(w, http.StatusOK, map[string]string{"status": rec.Outcome})
		return
	}

	outcome, err := h.reconciler.HandlePayment(r.Context(), dataID)
	if err != nil {
		rec.Outcome = "error"
		rec.Error = err.Error()
		h.store(r.Context(), rec, log)
		log.Error().Err(err).Msg("payment callback failed, gateway will retry")
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:   model.ErrCodeInternalError,
			Message: "callback could not be processed",
		})
		return
	}

	rec.Outcome = string(outcome)
	h.store(r.Context(), rec, log)
	writeJSON(w, http.StatusOK, map[string]string{"status": rec.Outcome})
}

// store archives a record. Archive failures never change the response.
func (h *WebhookHandler) store(ctx context.Context, rec *audit.Record, log zerolog.Logger) {
	if h.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if err := h.archive.Store(ctx, rec); err != nil {
		log.Error().Err(err).Str("outcome", rec.Outcome).Msg("failed to archive payment callback")
	}
}

// parseCallback reads the topic and payment id from the JSON body, falling
// back to query parameters for notifications that carry them in the URL.
func parseCallback(r *http.Request, body []byte) (topic, dataID string) {
	var p callbackPayload
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &p); err != nil {
			p = callbackPayload{}
		}
	}

	topic = firstNonEmpty(p.Type, p.Topic, r.URL.Query().Get("type"), r.URL.Query().Get("topic"))
	dataID = firstNonEmpty(string(p.Data.ID), r.URL.Query().Get("data.id"), r.URL.Query().Get("id"))
	return strings.ToLower(topic), dataID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(archivedHeaders))
	for _, name := range archivedHeaders {
		if v := h.Get(name); v != "" {
			out[strings.ToLower(name)] = v
		}
	}
	return out
}

// rawBody keeps JSON bodies as is and stores anything else as a JSON string.
func rawBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(string(body)); err != nil {
		return nil
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
