package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func delegateServer(t *testing.T, handler func(scrapeRequest) scrapeResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scrape" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req scrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(handler(req))
	}))
}

func TestDelegateFetchMatchesOrder(t *testing.T) {
	price := 19.99
	srv := delegateServer(t, func(req scrapeRequest) scrapeResponse {
		if len(req.ASINs) != 3 {
			t.Fatalf("expected 3 asins in request, got %d", len(req.ASINs))
		}
		if !req.ProxyConfig.Enabled {
			t.Fatal("proxy credentials should be forwarded")
		}
		// respond out of order, omit the third identifier entirely
		return scrapeResponse{
			Success: true,
			Results: []scrapeItem{
				{ASIN: "B2", Success: false, Error: "captcha"},
				{ASIN: "B1", Success: true, Data: &scrapeItemData{Title: "Widget", Price: &price, SellerCount: 3}},
			},
		}
	})
	defer srv.Close()

	delegate := NewDelegate(DelegateOptions{
		WorkerURL: srv.URL,
		Timeout:   time.Second,
		Proxy:     ProxyCredentials{Username: "u", Password: "p", Enabled: true},
	}, zerolog.Nop())

	results, err := delegate.Fetch(context.Background(), []string{"B1", "B2", "B3"})
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if !results[0].Success || results[0].Product == nil {
		t.Fatalf("B1 should succeed: %+v", results[0])
	}
	if results[0].Product.Title != "Widget" || results[0].Product.SellerCount != 3 {
		t.Fatalf("unexpected product: %+v", results[0].Product)
	}
	if results[0].Product.Price == nil || results[0].Product.Price.InexactFloat64() != 19.99 {
		t.Fatalf("unexpected price: %v", results[0].Product.Price)
	}

	if results[1].Success || results[1].Err != "captcha" {
		t.Fatalf("B2 should carry delegate error: %+v", results[1])
	}
	if results[2].Success || results[2].Err != "missing from delegate response" {
		t.Fatalf("B3 should be marked missing: %+v", results[2])
	}
}

func TestDelegateFetchSellerCountDefault(t *testing.T) {
	srv := delegateServer(t, func(req scrapeRequest) scrapeResponse {
		return scrapeResponse{
			Success: true,
			Results: []scrapeItem{{ASIN: "B1", Success: true, Data: &scrapeItemData{Title: "Widget"}}},
		}
	})
	defer srv.Close()

	delegate := NewDelegate(DelegateOptions{WorkerURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	results, err := delegate.Fetch(context.Background(), []string{"B1"})
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}
	if results[0].Product.SellerCount != 1 {
		t.Fatalf("seller count should default to 1, got %d", results[0].Product.SellerCount)
	}
}

func TestDelegateFetchReportedFailure(t *testing.T) {
	srv := delegateServer(t, func(req scrapeRequest) scrapeResponse {
		return scrapeResponse{Success: false, Error: "proxy exhausted"}
	})
	defer srv.Close()

	delegate := NewDelegate(DelegateOptions{WorkerURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := delegate.Fetch(context.Background(), []string{"B1"}); err == nil {
		t.Fatal("success=false should be an outright error")
	}
}

func TestDelegateFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	delegate := NewDelegate(DelegateOptions{WorkerURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := delegate.Fetch(context.Background(), []string{"B1"}); err == nil {
		t.Fatal("non-200 should be an outright error")
	}
}

func TestFetcherFallsBackToDirect(t *testing.T) {
	delegateSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer delegateSrv.Close()

	directSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleListingHTML))
	}))
	defer directSrv.Close()

	delegate := NewDelegate(DelegateOptions{WorkerURL: delegateSrv.URL, Timeout: time.Second}, zerolog.Nop())
	fetcher := New(delegate, fastDirect(directSrv.URL), zerolog.Nop())

	results := fetcher.FetchBatch(context.Background(), []string{"B000000001"})
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("fallback path should succeed: %+v", results)
	}
}

func TestFetcherPrefersDelegate(t *testing.T) {
	srv := delegateServer(t, func(req scrapeRequest) scrapeResponse {
		return scrapeResponse{
			Success: true,
			Results: []scrapeItem{{ASIN: "B1", Success: true, Data: &scrapeItemData{Title: "From Delegate"}}},
		}
	})
	defer srv.Close()

	delegate := NewDelegate(DelegateOptions{WorkerURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	fetcher := New(delegate, fastDirect("http://127.0.0.1:1"), zerolog.Nop())

	results := fetcher.FetchBatch(context.Background(), []string{"B1"})
	if !results[0].Success || results[0].Product.Title != "From Delegate" {
		t.Fatalf("delegate result expected: %+v", results[0])
	}
}
