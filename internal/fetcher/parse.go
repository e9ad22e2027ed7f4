package fetcher

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"primepulse/internal/storage"
)

var (
	ratingRe      = regexp.MustCompile(`(\d\.\d) out of`)
	reviewCountRe = regexp.MustCompile(`(\d{1,3}(?:,\d{3})*) ratings`)
	couponRe      = regexp.MustCompile(`Save \$([\d,]+\.\d{2})`)
)

var priceSelectors = []string{
	".a-price-whole",
	".a-offscreen",
	"#priceblock_dealprice",
	"#priceblock_ourprice",
	".a-price.a-text-price.a-size-medium.apexPriceToPay .a-offscreen",
}

var listPriceSelectors = []string{
	".a-price.a-text-price .a-offscreen",
	".a-text-strike .a-offscreen",
	"#listPrice",
	".a-price-base .a-offscreen",
}

var dec100Pct = decimal.NewFromInt(100)

// ParseProduct extracts structured listing fields from a product page.
// Selector misses degrade to zero values; only an unreadable document errors.
func ParseProduct(r io.Reader, asin string) (*Product, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	product := &Product{
		ASIN:          asin,
		Title:         extractTitle(doc),
		Price:         extractPrice(doc, priceSelectors),
		ListPrice:     extractPrice(doc, listPriceSelectors),
		Availability:  extractAvailability(doc),
		PrimeEligible: checkPrimeEligible(doc),
		Rating:        extractRating(doc),
		ReviewCount:   extractReviewCount(doc),
		SellerName:    extractSeller(doc),
		SellerCount:   1,
		HasCoupon:     checkCoupon(doc),
		CouponAmount:  extractCouponAmount(doc),
	}

	if product.Price != nil && product.ListPrice != nil && product.ListPrice.GreaterThan(*product.Price) {
		discount := product.ListPrice.Sub(*product.Price).Div(*product.ListPrice).Mul(dec100Pct)
		product.DiscountPct = &discount
	}

	return product, nil
}

func extractTitle(doc *goquery.Document) string {
	for _, selector := range []string{"#productTitle", ".product-title", ".a-size-large.product-title-word-break"} {
		if title := strings.TrimSpace(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

func extractPrice(doc *goquery.Document, selectors []string) *decimal.Decimal {
	for _, selector := range selectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text == "" {
			continue
		}
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(text)
		if price, err := decimal.NewFromString(cleaned); err == nil {
			return &price
		}
	}
	return nil
}

func extractAvailability(doc *goquery.Document) string {
	text := strings.ToLower(strings.TrimSpace(doc.Find("#availability span").Text()))
	switch {
	case strings.Contains(text, storage.AvailabilityInStock):
		return storage.AvailabilityInStock
	case strings.Contains(text, storage.AvailabilityOutOfStock):
		return storage.AvailabilityOutOfStock
	case strings.Contains(text, "limited"):
		return storage.AvailabilityLimited
	case strings.Contains(text, storage.AvailabilityNone):
		return storage.AvailabilityNone
	default:
		return storage.AvailabilityUnknown
	}
}

func checkPrimeEligible(doc *goquery.Document) bool {
	return doc.Find(".a-icon-prime").Length() > 0 ||
		doc.Find(`[aria-label="Prime"]`).Length() > 0 ||
		doc.Find(".prime-logo").Length() > 0
}

func extractRating(doc *goquery.Document) float64 {
	match := ratingRe.FindStringSubmatch(doc.Find(".a-icon-alt").First().Text())
	if match == nil {
		return 0
	}
	rating, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	return rating
}

func extractReviewCount(doc *goquery.Document) int {
	match := reviewCountRe.FindStringSubmatch(doc.Find("#acrCustomerReviewText").Text())
	if match == nil {
		return 0
	}
	count, err := strconv.Atoi(strings.ReplaceAll(match[1], ",", ""))
	if err != nil {
		return 0
	}
	return count
}

func extractSeller(doc *goquery.Document) string {
	if seller := strings.TrimSpace(doc.Find("#sellerProfileTriggerId").Text()); seller != "" {
		return seller
	}
	return strings.TrimSpace(doc.Find(`.tabular-buybox-text[tabular-attribute-name="Sold by"] span`).Text())
}

func checkCoupon(doc *goquery.Document) bool {
	if doc.Find(".couponText").Length() > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(doc.Find(".a-color-price").Text()), "coupon")
}

func extractCouponAmount(doc *goquery.Document) decimal.Decimal {
	match := couponRe.FindStringSubmatch(doc.Find(".couponText, .a-color-price").Text())
	if match == nil {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(match[1], ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return amount
}
