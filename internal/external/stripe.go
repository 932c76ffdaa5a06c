package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mandatesync/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"golang.org/x/sync/singleflight"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// setupIntentFetchTimeout bounds a shared setup intent read, including retries.
const setupIntentFetchTimeout = 20 * time.Second

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // defaults to stripeAPIBase
	Logger    *slog.Logger

	// OnFailure is called for every failed read other than a missing object.
	OnFailure func(ctx context.Context, provider string)
}

// StripeClient reads Stripe objects over the REST API through BaseClient.
// Responses are decoded into stripe-go types so callers share one object
// model with the webhook payloads.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
	onFailure func(ctx context.Context, provider string)

	// Duplicate deliveries of the same event often arrive together; they
	// share one upstream read.
	inflight singleflight.Group
}

// NewStripeClient creates a StripeClient with the default resilience settings.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		DefaultBreakerSettings("stripe"),
		DefaultRetryPolicy(),
		"MandateSync/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
		onFailure: cfg.OnFailure,
	}
}

// GetSetupIntent retrieves a setup intent with payment_method and mandate
// expanded.
func (s *StripeClient) GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	if id == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "setup intent id is required", nil)
	}

	// The shared read outlives any single caller; a cancelled caller leaves
	// it running for the others.
	ch := s.inflight.DoChan(id, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), setupIntentFetchTimeout)
		defer cancel()
		return s.fetchSetupIntent(fetchCtx, id)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		if !types.HasCode(res.Err, types.ErrCodeNotFoundSetupIntent) && s.onFailure != nil {
			s.onFailure(ctx, "stripe")
		}
		return nil, res.Err
	}
	if res.Shared {
		s.logger.DebugContext(ctx, "setup intent read shared with concurrent caller", "setup_intent_id", id)
	}

	// Each caller gets its own copy; the shared pointer must not be mutated.
	si := *res.Val.(*stripe.SetupIntent)
	return &si, nil
}

func (s *StripeClient) fetchSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	params := url.Values{}
	params.Add("expand[]", "payment_method")
	params.Add("expand[]", "mandate")

	start := time.Now()
	resp, err := s.doGet(ctx, "/v1/setup_intents/"+url.PathEscape(id), params)
	if err != nil {
		return nil, s.wrapStripeError("GetSetupIntent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSetupIntent", types.ErrCodeNotFoundSetupIntent)
	}

	var si stripe.SetupIntent
	if err := json.NewDecoder(resp.Body).Decode(&si); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"GetSetupIntent: failed to decode Stripe response",
			err,
		)
	}

	s.logger.DebugContext(ctx, "fetched setup intent",
		"setup_intent_id", id,
		"status", si.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &si, nil
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

// handleErrorResponse reads a non-200 Stripe response and maps it to an
// AppError. A 404 becomes notFound.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string, notFound types.ErrorCode) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	appErr := types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
		nil,
	)
	if resp.StatusCode == http.StatusNotFound {
		appErr.Code = notFound
		appErr.Message = fmt.Sprintf("%s: Stripe resource not found: %s", operation, stripeErr.Error.Message)
	}
	return appErr.WithDetails(map[string]any{
		"stripe_type": stripeErr.Error.Type,
		"stripe_code": stripeErr.Error.Code,
		"status":      resp.StatusCode,
	})
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// StripeVerifier implements WebhookVerifier with stripe-go's HMAC-SHA256
// signature check.
type StripeVerifier struct {
	// Tolerance bounds the age of the signed timestamp. Zero uses
	// webhook.DefaultTolerance.
	Tolerance time.Duration
}

// Verify checks the Stripe-Signature header against the raw payload. The
// payload is not parsed; API version compatibility is the decoder's concern.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
}
