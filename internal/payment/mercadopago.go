package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"bikeshop/internal/config"

	"github.com/rs/zerolog"
)

const (
	preferencesPath = "/checkout/preferences"
	paymentsPath    = "/v1/payments/"
)

type mercadoPagoGateway struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewMercadoPagoGateway creates a gateway client for MercadoPago's REST API.
func NewMercadoPagoGateway(cfg config.GatewayConfig, logger zerolog.Logger) Gateway {
	logger = logger.With().Str("component", "mercadopago").Logger()
	if cfg.AccessToken == "" {
		logger.Warn().Msg("gateway access token is empty")
	}

	return &mercadoPagoGateway{
		accessToken: cfg.AccessToken,
		baseURL:     cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type preferenceItem struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	BackURLs          map[string]string `json:"back_urls"`
	AutoReturn        string            `json:"auto_return"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
}

// CreatePaymentIntent creates a checkout preference.
func (g *mercadoPagoGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	log := g.logger.With().
		Str("external_reference", req.ExternalReference).
		Int("item_count", len(req.Items)).
		Logger()

	items := make([]preferenceItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = preferenceItem{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  json.Number(item.UnitPrice.StringFixed(2)),
			CurrencyID: req.Currency,
		}
	}

	body := preferenceRequest{
		Items: items,
		BackURLs: map[string]string{
			"success": req.BackURLs.Success,
			"failure": req.BackURLs.Failure,
			"pending": req.BackURLs.Pending,
		},
		AutoReturn:        "approved",
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal preference request")
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+preferencesPath, bytes.NewReader(jsonBody))
	if err != nil {
		log.Error().Err(err).Msg("failed creating request")
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", req.ExternalReference)

	log.Info().Msg("creating payment preference")

	status, respBody, err := g.do(httpReq)
	if err != nil {
		log.Error().Err(err).Msg("preference request failed")
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		log.Error().Int("status", status).Bytes("response", respBody).Msg("gateway returned non-success status")
		return nil, fmt.Errorf("mercadopago error: status %d: %s", status, respBody)
	}

	var res preferenceResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		log.Error().Err(err).Msg("failed decoding preference response")
		return nil, fmt.Errorf("failed to decode mercadopago preference: %w", err)
	}
	if res.ID == "" || res.InitPoint == "" {
		log.Error().Bytes("response", respBody).Msg("preference response is missing id or init_point")
		return nil, errors.New("mercadopago preference response is incomplete")
	}

	log.Info().Str("preference_id", res.ID).Msg("payment preference created")

	return &Intent{ID: res.ID, RedirectURL: res.InitPoint}, nil
}

// GetPaymentStatus fetches a payment by id.
func (g *mercadoPagoGateway) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	log := g.logger.With().Str("payment_id", paymentID).Logger()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+paymentsPath+url.PathEscape(paymentID), nil)
	if err != nil {
		log.Error().Err(err).Msg("failed building request")
		return nil, err
	}

	status, respBody, err := g.do(httpReq)
	if err != nil {
		log.Error().Err(err).Msg("payment lookup failed")
		return nil, err
	}
	if status == http.StatusNotFound {
		log.Warn().Msg("payment not found at gateway")
		return nil, ErrPaymentNotFound
	}
	if status != http.StatusOK {
		log.Error().Int("status", status).Bytes("response", respBody).Msg("gateway returned error")
		return nil, fmt.Errorf("mercadopago error: status %d: %s", status, respBody)
	}

	var res paymentResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		log.Error().Err(err).Msg("failed decoding payment")
		return nil, fmt.Errorf("failed to decode mercadopago payment: %w", err)
	}
	if res.Status == "" {
		return nil, errors.New("mercadopago payment response has no status")
	}

	info := &PaymentInfo{
		ID:                res.ID.String(),
		Status:            normaliseStatus(res.Status),
		RawStatus:         res.Status,
		ExternalReference: res.ExternalReference,
	}
	if info.ID == "" {
		info.ID = paymentID
	}

	log.Debug().
		Str("status", res.Status).
		Str("status_detail", res.StatusDetail).
		Str("external_reference", res.ExternalReference).
		Msg("payment fetched")

	return info, nil
}

func (g *mercadoPagoGateway) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read mercadopago response: %w", err)
	}
	return resp.StatusCode, body, nil
}
