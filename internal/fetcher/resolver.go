package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const resolverQuotePath = "/v1/price"

// ResolverOptions parameterise the price resolver client.
type ResolverOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Resolver fetches listing prices from an external price-resolver API,
// which owns the scraping mechanics.
type Resolver struct {
	opts    ResolverOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewResolver constructs a price resolver client.
func NewResolver(opts ResolverOptions, logger zerolog.Logger) *Resolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Resolver{
		opts:    opts,
		logger:  logger.With().Str("component", "price_resolver").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Fetch retrieves the current price for a listing URL. An unavailable
// listing resolves to a zero price.
func (r *Resolver) Fetch(ctx context.Context, listingURL string) (decimal.Decimal, error) {
	if r.baseURL == "" {
		return decimal.Decimal{}, errors.New("resolver base url required")
	}
	if listingURL == "" {
		return decimal.Decimal{}, errors.New("listing url required")
	}

	endpoint := r.baseURL + resolverQuotePath + "?url=" + url.QueryEscape(listingURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pricenotifier/1.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var quote priceResponse
	if err := json.Unmarshal(payloadBytes, &quote); err != nil {
		return decimal.Decimal{}, err
	}

	if !quote.Available {
		return decimal.Zero, nil
	}

	price, err := decimal.NewFromString(quote.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price: %w", err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("resolver returned negative price %s", price)
	}

	return price, nil
}

type priceResponse struct {
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Available bool   `json:"available"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("resolver error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("resolver error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("resolver error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("resolver error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("resolver error (%d)", status)
}

var _ PriceFetcher = (*Resolver)(nil)
