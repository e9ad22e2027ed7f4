package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const scrapePath = "/scrape"

// DelegateOptions parameterise the remote fetch delegate.
type DelegateOptions struct {
	WorkerURL     string
	MaxConcurrent int
	Timeout       time.Duration
	Proxy         ProxyCredentials
}

// Delegate hands a whole batch to the remote execution service.
type Delegate struct {
	opts    DelegateOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewDelegate constructs a remote delegate client.
func NewDelegate(opts DelegateOptions, logger zerolog.Logger) *Delegate {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}

	return &Delegate{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.WorkerURL, "/"),
		logger:  logger.With().Str("component", "fetch_delegate").Logger(),
	}
}

type scrapeRequest struct {
	ASINs         []string         `json:"asins"`
	ProxyConfig   ProxyCredentials `json:"proxyConfig"`
	MaxConcurrent int              `json:"maxConcurrent"`
}

type scrapeItemData struct {
	Title           string   `json:"title"`
	Price           *float64 `json:"price"`
	ListPrice       *float64 `json:"listPrice"`
	DiscountPercent *float64 `json:"discountPercent"`
	Availability    string   `json:"availability"`
	PrimeEligible   bool     `json:"primeEligible"`
	Rating          float64  `json:"rating"`
	ReviewCount     int      `json:"reviewCount"`
	Seller          string   `json:"seller"`
	SellerCount     int      `json:"sellerCount"`
	HasCoupon       bool     `json:"hasCoupon"`
	CouponAmount    float64  `json:"couponAmount"`
}

type scrapeItem struct {
	ASIN      string          `json:"asin"`
	Success   bool            `json:"success"`
	Data      *scrapeItemData `json:"data"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

type scrapeResponse struct {
	Success bool         `json:"success"`
	Results []scrapeItem `json:"results"`
	Error   string       `json:"error"`
}

// Fetch posts the batch to the delegate. Returns an error only for outright
// call failure (network or non-success response); per-item failures come back
// as failed results.
func (d *Delegate) Fetch(ctx context.Context, asins []string) ([]Result, error) {
	if d.baseURL == "" {
		return nil, errors.New("worker url not configured")
	}

	payload := scrapeRequest{
		ASINs:         asins,
		ProxyConfig:   d.opts.Proxy,
		MaxConcurrent: d.opts.MaxConcurrent,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+scrapePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "primepulse/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("delegate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payloadBytes)))
	}

	var decoded scrapeResponse
	if err := json.Unmarshal(payloadBytes, &decoded); err != nil {
		return nil, fmt.Errorf("decode delegate response: %w", err)
	}
	if !decoded.Success {
		if decoded.Error != "" {
			return nil, fmt.Errorf("delegate reported failure: %s", decoded.Error)
		}
		return nil, errors.New("delegate reported failure")
	}

	return matchResults(asins, decoded.Results), nil
}

// matchResults re-orders delegate results positionally against the request.
// An identifier missing from the response becomes a failed slot.
func matchResults(asins []string, items []scrapeItem) []Result {
	byASIN := make(map[string]scrapeItem, len(items))
	for _, item := range items {
		byASIN[item.ASIN] = item
	}

	results := make([]Result, len(asins))
	for i, asin := range asins {
		item, ok := byASIN[asin]
		if !ok {
			results[i] = Result{ASIN: asin, Err: "missing from delegate response", FetchedAt: time.Now().UTC()}
			continue
		}

		fetchedAt := item.Timestamp
		if fetchedAt.IsZero() {
			fetchedAt = time.Now().UTC()
		}

		if !item.Success || item.Data == nil {
			errMsg := item.Error
			if errMsg == "" {
				errMsg = "delegate returned no data"
			}
			results[i] = Result{ASIN: asin, Err: errMsg, FetchedAt: fetchedAt}
			continue
		}

		results[i] = Result{
			ASIN:      asin,
			Success:   true,
			Product:   item.Data.toProduct(asin),
			FetchedAt: fetchedAt,
		}
	}
	return results
}

func (d *scrapeItemData) toProduct(asin string) *Product {
	product := &Product{
		ASIN:          asin,
		Title:         d.Title,
		Availability:  d.Availability,
		PrimeEligible: d.PrimeEligible,
		Rating:        d.Rating,
		ReviewCount:   d.ReviewCount,
		SellerName:    d.Seller,
		SellerCount:   d.SellerCount,
		HasCoupon:     d.HasCoupon,
		CouponAmount:  decimal.NewFromFloat(d.CouponAmount),
	}
	if product.SellerCount <= 0 {
		product.SellerCount = 1
	}
	if d.Price != nil {
		price := decimal.NewFromFloat(*d.Price)
		product.Price = &price
	}
	if d.ListPrice != nil {
		listPrice := decimal.NewFromFloat(*d.ListPrice)
		product.ListPrice = &listPrice
	}
	if d.DiscountPercent != nil {
		discount := decimal.NewFromFloat(*d.DiscountPercent)
		product.DiscountPct = &discount
	}
	return product
}
