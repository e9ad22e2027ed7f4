package fetcher

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// defaultUserAgents is the rotation pool for direct fetches.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
}

// DirectOptions parameterise the direct fetch path.
type DirectOptions struct {
	BaseURL        string
	MaxConcurrent  int
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	ChunkDelayMin  time.Duration
	ChunkDelayMax  time.Duration
	UserAgents     []string
}

// Direct fetches listing pages one item at a time, in bounded concurrent
// chunks with a randomized pause between chunks.
type Direct struct {
	opts   DirectOptions
	client *http.Client
	logger zerolog.Logger
}

// NewDirect constructs a direct fetcher.
func NewDirect(opts DirectOptions, logger zerolog.Logger) *Direct {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.ChunkDelayMin <= 0 {
		opts.ChunkDelayMin = 2 * time.Second
	}
	if opts.ChunkDelayMax < opts.ChunkDelayMin {
		opts.ChunkDelayMax = opts.ChunkDelayMin + 3*time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.amazon.com/dp/"
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaultUserAgents
	}

	return &Direct{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "direct_fetcher").Logger(),
	}
}

// FetchBatch settles every identifier: chunks run sequentially, items inside
// a chunk run concurrently, and one item's failure never cancels siblings.
func (d *Direct) FetchBatch(ctx context.Context, asins []string) []Result {
	results := make([]Result, len(asins))

	chunks := chunkStrings(asins, d.opts.MaxConcurrent)
	offset := 0
	for i, chunk := range chunks {
		group, groupCtx := errgroup.WithContext(ctx)
		for j, asin := range chunk {
			idx := offset + j
			asin := asin
			group.Go(func() error {
				results[idx] = d.fetchOne(groupCtx, asin)
				return nil
			})
		}
		// fetchOne never returns an error; Wait only orders the writes.
		_ = group.Wait()
		offset += len(chunk)

		if i < len(chunks)-1 {
			if err := d.chunkPause(ctx); err != nil {
				for k := offset; k < len(asins); k++ {
					results[k] = Result{ASIN: asins[k], Err: err.Error(), FetchedAt: time.Now().UTC()}
				}
				return results
			}
		}
	}

	return results
}

func (d *Direct) fetchOne(ctx context.Context, asin string) Result {
	url := strings.TrimRight(d.opts.BaseURL, "/") + "/" + asin
	start := rand.Intn(len(d.opts.UserAgents))

	var lastErr error
	for attempt := 1; attempt <= d.opts.RetryAttempts; attempt++ {
		userAgent := d.opts.UserAgents[(start+attempt)%len(d.opts.UserAgents)]
		product, err := d.request(ctx, url, userAgent, asin)
		if err == nil {
			return Result{ASIN: asin, Success: true, Product: product, FetchedAt: time.Now().UTC()}
		}

		lastErr = err
		d.logger.Warn().Err(err).Str("asin", asin).Int("attempt", attempt).
			Msg("direct fetch attempt failed")

		if attempt < d.opts.RetryAttempts {
			backoff := time.Duration(attempt) * d.opts.RetryBaseDelay
			if err := sleepCtx(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	return Result{ASIN: asin, Err: lastErr.Error(), FetchedAt: time.Now().UTC()}
}

func (d *Direct) request(ctx context.Context, url, userAgent, asin string) (*Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing page returned status %d", resp.StatusCode)
	}

	return ParseProduct(resp.Body, asin)
}

func (d *Direct) chunkPause(ctx context.Context) error {
	spread := d.opts.ChunkDelayMax - d.opts.ChunkDelayMin
	delay := d.opts.ChunkDelayMin
	if spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	return sleepCtx(ctx, delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func chunkStrings(values []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

var _ BatchFetcher = (*Direct)(nil)
