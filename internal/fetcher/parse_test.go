package fetcher

import (
	"math"
	"strings"
	"testing"

	"primepulse/internal/storage"
)

func TestParseProductFullListing(t *testing.T) {
	product, err := ParseProduct(strings.NewReader(sampleListingHTML), "B000000001")
	if err != nil {
		t.Fatalf("ParseProduct should succeed: %v", err)
	}

	if product.ASIN != "B000000001" {
		t.Fatalf("asin = %s", product.ASIN)
	}
	if product.Title != "Anker USB C Charger 30W" {
		t.Fatalf("title = %q", product.Title)
	}
	if product.Price == nil || product.Price.InexactFloat64() != 19.99 {
		t.Fatalf("price = %v", product.Price)
	}
	if product.ListPrice == nil || product.ListPrice.InexactFloat64() != 25.99 {
		t.Fatalf("list price = %v", product.ListPrice)
	}
	if product.DiscountPct == nil {
		t.Fatal("discount should be derived from list price")
	}
	wantDiscount := (25.99 - 19.99) / 25.99 * 100
	if math.Abs(product.DiscountPct.InexactFloat64()-wantDiscount) > 0.01 {
		t.Fatalf("discount = %v, want ~%f", product.DiscountPct, wantDiscount)
	}
	if product.Availability != storage.AvailabilityInStock {
		t.Fatalf("availability = %s", product.Availability)
	}
	if !product.PrimeEligible {
		t.Fatal("prime badge should be detected")
	}
	if product.Rating != 4.7 {
		t.Fatalf("rating = %f", product.Rating)
	}
	if product.ReviewCount != 12345 {
		t.Fatalf("review count = %d", product.ReviewCount)
	}
	if !product.HasCoupon {
		t.Fatal("coupon should be detected")
	}
	if product.CouponAmount.InexactFloat64() != 5.0 {
		t.Fatalf("coupon amount = %v", product.CouponAmount)
	}
}

func TestParseProductSparseListing(t *testing.T) {
	html := `<html><body><span id="productTitle">Bare Item</span></body></html>`

	product, err := ParseProduct(strings.NewReader(html), "B000000002")
	if err != nil {
		t.Fatalf("ParseProduct should tolerate sparse pages: %v", err)
	}

	if product.Title != "Bare Item" {
		t.Fatalf("title = %q", product.Title)
	}
	if product.Price != nil || product.ListPrice != nil || product.DiscountPct != nil {
		t.Fatal("missing selectors should leave prices nil")
	}
	if product.Availability != storage.AvailabilityUnknown {
		t.Fatalf("availability = %s", product.Availability)
	}
	if product.SellerCount != 1 {
		t.Fatalf("seller count should default to 1, got %d", product.SellerCount)
	}
	if product.HasCoupon || !product.CouponAmount.IsZero() {
		t.Fatal("no coupon markers should mean no coupon")
	}
}

func TestParseProductOutOfStock(t *testing.T) {
	html := `<html><body><div id="availability"><span>Currently unavailable.</span></div></body></html>`

	product, err := ParseProduct(strings.NewReader(html), "B000000003")
	if err != nil {
		t.Fatalf("ParseProduct should succeed: %v", err)
	}
	if product.Availability != storage.AvailabilityNone {
		t.Fatalf("availability = %s, want %s", product.Availability, storage.AvailabilityNone)
	}
}
