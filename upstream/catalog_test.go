package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func catalogTestServer(t *testing.T, handler http.HandlerFunc) (*CatalogClient, *httptest.Server) {
	ts := httptest.NewServer(handler)
	client := &CatalogClient{
		BaseURL: ts.URL,
		HTTP:    &http.Client{Transport: fastTransport()},
	}
	return client, ts
}

func TestProductsByIdentifiers(t *testing.T) {
	client, ts := catalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/productIdentifiers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var names []string
		if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
			t.Errorf("request body: %s", err.Error())
		}
		fmt.Fprint(w, `{
			"productCounts": {
				"requestedProductCount": 2,
				"returnedProductCount": 1,
				"requestedProductsAlreadyUpToDateCount": 0,
				"requestedProductsNotReturned": [
					{"productName": "GB500001", "reason": "invalidProduct"}
				]
			},
			"products": [{
				"productName": "DE416080",
				"editionNumber": 9,
				"updateNumbers": [0, 1, 6],
				"fileSize": 2097152
			}]
		}`)
	})
	defer ts.Close()

	resp, err := client.ProductsByIdentifiers(context.Background(), []string{"DE416080", "GB500001"})
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if resp.ProductCounts.RequestedProductCount != 2 {
		t.Errorf("requested count = %d", resp.ProductCounts.RequestedProductCount)
	}
	if len(resp.ProductCounts.RequestedProductsNotReturned) != 1 {
		t.Errorf("not-returned list = %+v", resp.ProductCounts.RequestedProductsNotReturned)
	}
	if len(resp.Products) != 1 {
		t.Fatalf("products = %+v", resp.Products)
	}
	p := resp.Products[0]
	if p.ProductName != "DE416080" || p.EditionNumber != 9 || len(p.UpdateNumbers) != 3 {
		t.Errorf("product = %+v", p)
	}
}

func TestProductsSinceNotModified(t *testing.T) {
	lastMod := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	client, ts := catalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sinceDateTime") == "" {
			t.Error("sinceDateTime parameter missing")
		}
		w.Header().Set("Last-Modified", lastMod.Format(http.TimeFormat))
		w.WriteHeader(http.StatusNotModified)
	})
	defer ts.Close()

	resp, err := client.ProductsSince(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("received %s; a 304 must not be an error", err.Error())
	}
	if !resp.NotModified {
		t.Error("NotModified flag not set")
	}
	if !resp.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, expected %v", resp.LastModified, lastMod)
	}
	if len(resp.Products) != 0 {
		t.Errorf("products = %+v, expected none", resp.Products)
	}
}

func TestCancelledProductDecodes(t *testing.T) {
	client, ts := catalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"productCounts": {"requestedProductCount": 1, "returnedProductCount": 1},
			"products": [{
				"productName": "DE290001",
				"editionNumber": 0,
				"updateNumbers": [0],
				"cancellation": {"editionNumber": 0, "updateNumber": 8},
				"fileSize": 0
			}]
		}`)
	})
	defer ts.Close()

	resp, err := client.ProductsByIdentifiers(context.Background(), []string{"DE290001"})
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	p := resp.Products[0]
	if p.EditionNumber != 0 {
		t.Errorf("edition = %d", p.EditionNumber)
	}
	if p.Cancellation == nil || p.Cancellation.UpdateNumber != 8 {
		t.Errorf("cancellation = %+v", p.Cancellation)
	}
}

func TestCatalogFatalStatus(t *testing.T) {
	client, ts := catalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer ts.Close()

	_, err := client.ProductsByIdentifiers(context.Background(), []string{"DE416080"})
	if err == nil {
		t.Fatal("expected an error")
	}
	serr, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("error is %T, expected *StatusError", err)
	}
	if serr.StatusCode != http.StatusForbidden || serr.Retryable() {
		t.Errorf("error = %+v", serr)
	}
}

func TestCatalogMalformedBodyIsFatal(t *testing.T) {
	client, ts := catalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"products": [`)
	})
	defer ts.Close()

	_, err := client.ProductsByIdentifiers(context.Background(), []string{"DE416080"})
	if err == nil {
		t.Fatal("expected an error for a malformed body")
	}
}
