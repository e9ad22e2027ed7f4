package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Product is the structured payload extracted from one listing page.
type Product struct {
	ASIN          string
	Title         string
	Price         *decimal.Decimal
	ListPrice     *decimal.Decimal
	DiscountPct   *decimal.Decimal
	Availability  string
	PrimeEligible bool
	Rating        float64
	ReviewCount   int
	SellerName    string
	SellerCount   int
	HasCoupon     bool
	CouponAmount  decimal.Decimal
}

// Result is one fetch settlement. Failures are data: a failed item carries
// its last error and never aborts the batch.
type Result struct {
	ASIN      string
	Success   bool
	Product   *Product
	Err       string
	FetchedAt time.Time
}

// ProxyCredentials are forwarded to the fetch delegate.
type ProxyCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Endpoint string `json:"endpoint"`
	Enabled  bool   `json:"enabled"`
}

// BatchFetcher acquires one fetch result per requested identifier,
// positionally matched to the input order.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, asins []string) []Result
}

// Fetcher tries the remote fetch delegate first and falls back to direct
// per-item fetches when the delegate call fails outright.
type Fetcher struct {
	delegate *Delegate
	direct   *Direct
	logger   zerolog.Logger
}

// New combines an optional delegate with the direct fallback path.
func New(delegate *Delegate, direct *Direct, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		delegate: delegate,
		direct:   direct,
		logger:   logger.With().Str("component", "fetcher").Logger(),
	}
}

// FetchBatch returns one result per identifier in input order.
func (f *Fetcher) FetchBatch(ctx context.Context, asins []string) []Result {
	if len(asins) == 0 {
		return nil
	}

	if f.delegate != nil {
		results, err := f.delegate.Fetch(ctx, asins)
		if err == nil {
			return results
		}
		f.logger.Warn().Err(err).Int("count", len(asins)).
			Msg("fetch delegate failed; falling back to direct fetching")
	}

	return f.direct.FetchBatch(ctx, asins)
}

var _ BatchFetcher = (*Fetcher)(nil)
