//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// rushKey returns the API key of one of the seeded load-test users. Each
// user has its own cart, so concurrent checkouts contend only on shared
// product stock and coupon usage counters.
func rushKey(i int) string {
	return fmt.Sprintf("%s-rush%d", testAPIKey, i)
}

// clearCartFor empties the cart of the user behind apiKey.
func clearCartFor(t *testing.T, apiKey string) {
	t.Helper()

	c := decodeJSON[cartResponse](t, do(t, http.MethodGet, "/api/cart", nil, apiKey))
	for _, line := range c.Items {
		resp := do(t, http.MethodDelete, "/api/cart/items/"+line.ID, nil, apiKey)
		resp.Body.Close()
	}
}

// postOrder is safe to call from multiple goroutines: it reports failures
// by return value instead of touching testing.T. A residual serialization
// failure that survived the server's own retries rolled the transaction
// back, so re-posting it is safe; definitive outcomes (success,
// insufficient stock, coupon rejection) are returned as-is.
func postOrder(req orderRequest, apiKey string) (int, string, error) {
	const maxAttempts = 5

	var (
		status int
		body   string
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		data, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}

		httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/orders", bytes.NewReader(data))
		if err != nil {
			return 0, "", err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-API-Key", apiKey)

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			return 0, "", err
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, "", err
		}
		status, body = resp.StatusCode, string(raw)

		if status == http.StatusInternalServerError && !strings.Contains(body, "insufficient stock") {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return status, body, nil
	}
	return status, body, nil
}

type checkoutOutcome struct {
	status int
	body   string
	err    error
}

// Four users race for the three seeded units of the same product. Exactly
// three checkouts commit, the fourth fails on stock, and the listed stock
// lands at zero instead of going negative.
func TestPlaceOrder_ConcurrentCheckoutsDoNotOversell(t *testing.T) {
	const (
		users     = 4
		productID = "prod_limited"
		stock     = 3
	)

	for i := 1; i <= users; i++ {
		key := rushKey(i)
		clearCartFor(t, key)
		resp := do(t, http.MethodPut, "/api/cart/items", cartItemRequest{ProductID: productID, Quantity: 1}, key)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("add to cart for rush%d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
	t.Cleanup(func() {
		for i := 1; i <= users; i++ {
			clearCartFor(t, rushKey(i))
		}
	})

	results := make([]checkoutOutcome, users)
	var wg sync.WaitGroup
	for i := 1; i <= users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, body, err := postOrder(orderRequest{IdempotencyKey: uuid.NewString()}, rushKey(i))
			results[i-1] = checkoutOutcome{status: status, body: body, err: err}
		}(i)
	}
	wg.Wait()

	var created, outOfStock int
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("rush%d request: %v", i+1, r.err)
		}
		switch {
		case r.status == http.StatusCreated || r.status == http.StatusOK:
			created++
		case strings.Contains(r.body, "insufficient stock"):
			outOfStock++
		default:
			t.Errorf("rush%d: unexpected outcome %d: %s", i+1, r.status, r.body)
		}
	}
	if created != stock || outOfStock != users-stock {
		t.Fatalf("created = %d, out of stock = %d, want %d and %d", created, outOfStock, stock, users-stock)
	}

	products := decodeJSON[[]productResponse](t, doGet(t, "/api/products"))
	for _, p := range products {
		if p.ID == productID {
			if p.Stock != 0 {
				t.Errorf("stock = %d, want 0", p.Stock)
			}
			return
		}
	}
	t.Fatalf("product %s not in listing", productID)
}

// Two users race for the single allowed use of a capped coupon. Exactly one
// checkout gets the discount; the other is rejected without placing an
// order, leaving its cart intact.
func TestPlaceOrder_ConcurrentCouponCapSingleWinner(t *testing.T) {
	const (
		users      = 2
		productID  = "prod_mug"
		couponCode = "ONETIME"
	)

	for i := 1; i <= users; i++ {
		key := rushKey(i)
		clearCartFor(t, key)
		resp := do(t, http.MethodPut, "/api/cart/items", cartItemRequest{ProductID: productID, Quantity: 1}, key)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("add to cart for rush%d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
	t.Cleanup(func() {
		for i := 1; i <= users; i++ {
			clearCartFor(t, rushKey(i))
		}
	})

	results := make([]checkoutOutcome, users)
	var wg sync.WaitGroup
	for i := 1; i <= users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, body, err := postOrder(orderRequest{
				CouponCode:     couponCode,
				IdempotencyKey: uuid.NewString(),
			}, rushKey(i))
			results[i-1] = checkoutOutcome{status: status, body: body, err: err}
		}(i)
	}
	wg.Wait()

	var winners, exhausted int
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("rush%d request: %v", i+1, r.err)
		}
		switch {
		case r.status == http.StatusCreated || r.status == http.StatusOK:
			var o orderResponse
			if err := json.Unmarshal([]byte(r.body), &o); err != nil {
				t.Fatalf("rush%d: decode order: %v", i+1, err)
			}
			if o.Discount <= 0 {
				t.Errorf("rush%d: discount = %v, want > 0", i+1, o.Discount)
			}
			winners++
		case r.status == http.StatusBadRequest && strings.Contains(r.body, "maximum usage limit"):
			exhausted++
		default:
			t.Errorf("rush%d: unexpected outcome %d: %s", i+1, r.status, r.body)
		}
	}
	if winners != 1 || exhausted != 1 {
		t.Fatalf("winners = %d, exhausted = %d, want exactly one of each", winners, exhausted)
	}
}
