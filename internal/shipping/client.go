package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hanko-field/orders/internal/platform/breaker"
)

const (
	defaultAuthTimeout   = 10 * time.Second
	defaultCreateTimeout = 20 * time.Second
	defaultTrackTimeout  = 10 * time.Second
	defaultTokenTTL      = 23 * time.Hour
	defaultTokenSkew     = 5 * time.Minute

	maxResponseBytes = 1 << 20
)

// Logger defines the logging contract for the shipping client.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ClientConfig configures the HTTP shipping provider client.
type ClientConfig struct {
	BaseURL       string
	Email         string
	Password      string
	HTTPClient    *http.Client
	AuthTimeout   time.Duration
	CreateTimeout time.Duration
	TrackTimeout  time.Duration
	TokenTTL      time.Duration
	TokenSkew     time.Duration
	Breaker       breaker.Settings
	Logger        Logger
	Clock         func() time.Time
}

// Client talks to the shipping provider REST API.
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client
	tokens   *TokenCache
	cb       *gobreaker.CircuitBreaker
	logger   Logger
	clock    func() time.Time

	authTimeout   time.Duration
	createTimeout time.Duration
	trackTimeout  time.Duration
	tokenTTL      time.Duration
}

// NewClient constructs a provider client. Outbound requests are traced with otelhttp unless
// a custom HTTP client is supplied.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("shipping: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.New("shipping: base url is invalid")
	}
	if strings.TrimSpace(cfg.Email) == "" || cfg.Password == "" {
		return nil, errors.New("shipping: credentials are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	settings := cfg.Breaker
	if settings.Name == "" {
		settings.Name = "shipping-provider"
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = countsAsSuccess
	}

	client := &Client{
		baseURL:       base,
		email:         strings.TrimSpace(cfg.Email),
		password:      cfg.Password,
		http:          httpClient,
		cb:            breaker.New(settings),
		logger:        logger,
		clock:         func() time.Time { return clock().UTC() },
		authTimeout:   durationOr(cfg.AuthTimeout, defaultAuthTimeout),
		createTimeout: durationOr(cfg.CreateTimeout, defaultCreateTimeout),
		trackTimeout:  durationOr(cfg.TrackTimeout, defaultTrackTimeout),
		tokenTTL:      durationOr(cfg.TokenTTL, defaultTokenTTL),
	}

	skew := cfg.TokenSkew
	if skew == 0 {
		skew = defaultTokenSkew
	}
	tokens, err := NewTokenCache(client.Authenticate, skew, client.clock)
	if err != nil {
		return nil, err
	}
	client.tokens = tokens
	return client, nil
}

// Authenticate logs in with the configured credentials.
func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	var resp loginResponse
	err := c.doJSON(ctx, "authenticate", http.MethodPost, "/auth/login", "", loginPayload{Email: c.email, Password: c.password}, &resp, c.authTimeout)
	if err != nil {
		if providerErr, ok := AsProviderError(err); ok && providerErr.Kind == ErrorKindRequest && providerErr.HTTPStatus > 0 {
			// bad credentials come back as 400/422 on login
			providerErr.Kind = ErrorKindAuth
		}
		c.logger(ctx, "shipping.auth.failed", map[string]any{"error": err.Error()})
		return Token{}, err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return Token{}, &ProviderError{Op: "authenticate", Kind: ErrorKindAuth, Message: defaultMessage(resp.Message, "no token in login response")}
	}
	ttl := c.tokenTTL
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}
	c.logger(ctx, "shipping.auth.refreshed", map[string]any{"ttl": ttl.String()})
	return Token{Value: resp.Token, ExpiresAt: c.clock().Add(ttl)}, nil
}

// CreateShipment registers a prepaid shipment. A 401 triggers exactly one forced token
// refresh and retry.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error) {
	payload, err := buildCreateOrderPayload(req)
	if err != nil {
		return ShipmentResult{}, &ProviderError{Op: "create_shipment", Kind: ErrorKindRequest, Message: err.Error(), Code: "invalid_request", Err: err}
	}

	result, err := breaker.Execute(c.cb, func() (ShipmentResult, error) {
		var resp createOrderResponse
		err := c.withToken(ctx, "create_shipment", func(token string) error {
			resp = createOrderResponse{}
			return c.doJSON(ctx, "create_shipment", http.MethodPost, "/orders/create/adhoc", token, payload, &resp, c.createTimeout)
		})
		if err != nil {
			return ShipmentResult{}, err
		}
		if string(resp.OrderID) == "" {
			return ShipmentResult{}, &ProviderError{
				Op:      "create_shipment",
				Kind:    ErrorKindRequest,
				Message: defaultMessage(resp.Message, "provider returned no order id"),
				Code:    "missing_order_id",
			}
		}
		return ShipmentResult{
			ProviderOrderID: string(resp.OrderID),
			ShipmentID:      string(resp.ShipmentID),
			TrackingCode:    string(resp.AWBCode),
			CourierName:     resp.CourierName,
			CourierID:       string(resp.CourierCompanyID),
			LabelURL:        resp.LabelURL,
			Status:          resp.Status,
		}, nil
	})
	if err != nil {
		return ShipmentResult{}, transportError("create_shipment", err)
	}
	c.logger(ctx, "shipping.shipment.created", map[string]any{
		"orderNumber":     req.OrderNumber,
		"providerOrderId": result.ProviderOrderID,
		"shipmentId":      result.ShipmentID,
		"trackingCode":    result.TrackingCode,
	})
	return result, nil
}

// TrackShipment fetches tracking details for an airway bill code.
func (c *Client) TrackShipment(ctx context.Context, trackingCode string) (TrackingResult, error) {
	trackingCode = strings.TrimSpace(trackingCode)
	if trackingCode == "" {
		return TrackingResult{}, &ProviderError{Op: "track_shipment", Kind: ErrorKindRequest, Message: "tracking code is required", Code: "invalid_request"}
	}

	result, err := breaker.Execute(c.cb, func() (TrackingResult, error) {
		var resp trackResponse
		err := c.withToken(ctx, "track_shipment", func(token string) error {
			resp = trackResponse{}
			return c.doJSON(ctx, "track_shipment", http.MethodGet, "/courier/track/awb/"+url.PathEscape(trackingCode), token, nil, &resp, c.trackTimeout)
		})
		if err != nil {
			return TrackingResult{}, err
		}
		data := resp.TrackingData
		if data.Error != "" && len(data.ShipmentTrack) == 0 {
			return TrackingResult{}, &ProviderError{Op: "track_shipment", Kind: ErrorKindRequest, Message: data.Error, Code: "tracking_unavailable"}
		}
		out := TrackingResult{
			TrackingCode: trackingCode,
			TrackURL:     data.TrackURL,
			ETD:          data.ETD,
		}
		if len(data.ShipmentTrack) > 0 {
			out.RawStatus = data.ShipmentTrack[0].CurrentStatus
			out.CourierName = data.ShipmentTrack[0].CourierName
		}
		if out.RawStatus == "" {
			out.RawStatus = string(data.ShipmentStatus)
		}
		out.Status = MapProviderStatus(out.RawStatus).Status
		for _, activity := range data.Activities {
			out.Activities = append(out.Activities, TrackingActivity{
				Date:     activity.Date,
				Status:   activity.Status,
				Activity: activity.Activity,
				Location: activity.Location,
			})
		}
		return out, nil
	})
	if err != nil {
		return TrackingResult{}, transportError("track_shipment", err)
	}
	return result, nil
}

// withToken runs call with the cached token and retries once with a fresh token on 401.
func (c *Client) withToken(ctx context.Context, op string, call func(token string) error) error {
	token, err := c.tokens.GetOrRefresh(ctx)
	if err != nil {
		return err
	}
	err = call(token)
	providerErr, ok := AsProviderError(err)
	if !ok || providerErr.HTTPStatus != http.StatusUnauthorized {
		return err
	}

	c.logger(ctx, "shipping.token.rejected", map[string]any{"op": op})
	c.tokens.Invalidate(token)
	token, err = c.tokens.GetOrRefresh(ctx)
	if err != nil {
		return err
	}
	return call(token)
}

func (c *Client) doJSON(ctx context.Context, op, method, path, token string, body any, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Op: op, Kind: ErrorKindRequest, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &ProviderError{Op: op, Kind: ErrorKindRequest, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, extractMessage(data))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{Op: op, Kind: ErrorKindRequest, Message: "decode response", Code: "invalid_response", HTTPStatus: resp.StatusCode, Err: err}
	}
	return nil
}

const maxMessageRunes = 200

func extractMessage(data []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	text := strings.TrimSpace(string(data))
	if utf8.RuneCountInString(text) > maxMessageRunes {
		text = string([]rune(text)[:maxMessageRunes])
	}
	return text
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

func defaultMessage(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

var _ Provider = (*Client)(nil)
