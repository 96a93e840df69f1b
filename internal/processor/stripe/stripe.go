package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/payflow/internal/processor/domain"
)

const defaultBaseURL = "https://api.stripe.com"

// Config carries the Stripe credentials and knobs. Secrets are injected
// here explicitly, never read from ambient state.
type Config struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	// Tolerance bounds the age of the signature timestamp; older
	// headers are rejected as replays. Zero means 5 minutes.
	Tolerance time.Duration
}

type Client struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	tolerance     time.Duration
	client        *http.Client
	now           func() time.Time
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Client{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		tolerance:     tolerance,
		client:        &http.Client{Timeout: timeout},
		now:           time.Now,
	}
}

func (c *Client) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.Intent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("automatic_payment_methods[enabled]", "true")
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		values.Set("metadata["+key+"]", value)
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey)
}

func (c *Client) GetIntent(ctx context.Context, providerIntentID string) (*domain.Intent, error) {
	providerIntentID = strings.TrimSpace(providerIntentID)
	if providerIntentID == "" {
		return nil, domain.ErrProcessorRejected
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+providerIntentID, nil, "")
}

type intentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Created      int64  `json:"created"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (*domain.Intent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: missing api key", domain.ErrProcessorRejected)
	}

	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProcessorTransient, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProcessorTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", domain.ErrProcessorTransient, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return nil, fmt.Errorf("%w: status %d", domain.ErrProcessorRejected, resp.StatusCode)
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "request rejected"
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrProcessorRejected, message)
	}

	var intent intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProcessorTransient, err)
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, fmt.Errorf("%w: empty intent id", domain.ErrProcessorTransient)
	}
	return &domain.Intent{
		ID:           intent.ID,
		Status:       intent.Status,
		ClientSecret: intent.ClientSecret,
		CreatedAt:    time.Unix(intent.Created, 0).UTC(),
	}, nil
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type eventObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DecodeAndVerify checks the Stripe-Signature header against the raw
// payload bytes, then decodes the event envelope. The signature covers
// "<t>.<raw payload>", so verification must happen before any parsing.
func (c *Client) DecodeAndVerify(payload []byte, signatureHeader string) (*domain.Event, error) {
	if c.webhookSecret == "" {
		return nil, domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}
	age := c.now().UTC().Sub(time.Unix(ts, 0))
	if age > c.tolerance || age < -c.tolerance {
		return nil, domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	matched := false
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, domain.ErrInvalidSignature
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" || strings.TrimSpace(envelope.Type) == "" {
		return nil, domain.ErrInvalidPayload
	}

	var object eventObject
	if len(envelope.Data.Object) > 0 {
		if err := json.Unmarshal(envelope.Data.Object, &object); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}

	occurredAt := time.Unix(envelope.Created, 0).UTC()
	if envelope.Created == 0 {
		occurredAt = c.now().UTC()
	}

	return &domain.Event{
		ID:               envelope.ID,
		Type:             envelope.Type,
		ProviderIntentID: strings.TrimSpace(object.ID),
		Status:           strings.TrimSpace(object.Status),
		OccurredAt:       occurredAt,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
