package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// A CatalogClient talks to the product catalog service. Requests name
// products three ways: everything changed since a datetime, an explicit
// product identifier list, or a product-version list.
type CatalogClient struct {
	// BaseURL of the catalog service, without a trailing slash.
	BaseURL string
	// APIKey is sent as X-Api-Key on every request. Empty disables it.
	APIKey string
	// HTTP is the client used for requests. nil means a client with the
	// default retrying Transport and a 30 second timeout.
	HTTP *http.Client
}

// A ProductVersion names one already-held product version in a catalog
// request, so the service can answer "what is newer than this".
type ProductVersion struct {
	ProductName   string `json:"productName"`
	EditionNumber int    `json:"editionNumber"`
	UpdateNumber  int    `json:"updateNumber"`
}

// A Cancellation records the edition and update in which a product was
// cancelled.
type Cancellation struct {
	EditionNumber int `json:"editionNumber"`
	UpdateNumber  int `json:"updateNumber"`
}

// A CatalogProduct is one product entry in a catalog response.
// EditionNumber 0 means the product is cancelled; that is a valid entry,
// not an error.
type CatalogProduct struct {
	ProductName   string        `json:"productName"`
	EditionNumber int           `json:"editionNumber"`
	UpdateNumbers []int         `json:"updateNumbers"`
	Cancellation  *Cancellation `json:"cancellation,omitempty"`
	FileSize      int64         `json:"fileSize"`
}

// ProductCounts summarizes how a catalog request was satisfied.
type ProductCounts struct {
	RequestedProductCount            int                  `json:"requestedProductCount"`
	ReturnedProductCount             int                  `json:"returnedProductCount"`
	RequestedProductsAlreadyUpToDate int                  `json:"requestedProductsAlreadyUpToDateCount"`
	RequestedProductsNotReturned     []ProductNotReturned `json:"requestedProductsNotReturned,omitempty"`
}

// A ProductNotReturned names a requested product the catalog could not
// return, with the service's reason.
type ProductNotReturned struct {
	ProductName string `json:"productName"`
	Reason      string `json:"reason"`
}

// A CatalogResponse is the typed catalog service answer. When NotModified
// is true the service returned 304: nothing changed since the requested
// datetime, LastModified carries the timestamp, and the rest of the
// structure is empty. A 304 is purely a pass-through signal; it never
// populates or invalidates the response cache.
type CatalogResponse struct {
	ProductCounts ProductCounts    `json:"productCounts"`
	Products      []CatalogProduct `json:"products"`

	NotModified  bool      `json:"-"`
	LastModified time.Time `json:"-"`
}

// A StatusError is a non-2xx, non-304 catalog or file-batch response after
// the transport gave up retrying.
type StatusError struct {
	Service    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
}

// Retryable reports whether the status would have been retried by the
// transport, i.e. the retries were exhausted rather than the request being
// rejected outright.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusServiceUnavailable
}

func (c *CatalogClient) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{
		Transport: &Transport{},
		Timeout:   30 * time.Second,
	}
}

func (c *CatalogClient) do(req *http.Request) (*http.Response, error) {
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return c.client().Do(req)
}

// ProductsSince asks for every product changed since the given time. A 304
// answer is returned as a CatalogResponse with NotModified set, not as an
// error.
func (c *CatalogClient) ProductsSince(ctx context.Context, since time.Time) (*CatalogResponse, error) {
	u := fmt.Sprintf("%s/products?sinceDateTime=%s",
		c.BaseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "catalog request")
	}
	return c.roundTrip(req.WithContext(ctx))
}

// ProductsByIdentifiers asks for the latest edition and updates of the
// named products.
func (c *CatalogClient) ProductsByIdentifiers(ctx context.Context, names []string) (*CatalogResponse, error) {
	req, err := c.postJSON(ctx, c.BaseURL+"/products/productIdentifiers", names)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(req)
}

// ProductsByVersions asks for anything newer than the given held versions.
func (c *CatalogClient) ProductsByVersions(ctx context.Context, versions []ProductVersion) (*CatalogResponse, error) {
	req, err := c.postJSON(ctx, c.BaseURL+"/products/productVersions", versions)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(req)
}

func (c *CatalogClient) postJSON(ctx context.Context, u string, body interface{}) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "catalog request")
	}
	req, err := http.NewRequest("POST", u, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "catalog request")
	}
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(ctx), nil
}

func (c *CatalogClient) roundTrip(req *http.Request) (*CatalogResponse, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(err, "catalog service")
	}
	defer resp.Body.Close()

	switch Classify(resp, nil) {
	case Success:
		result := new(CatalogResponse)
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return nil, errors.Wrap(err, "catalog service: malformed response")
		}
		return result, nil
	case NotModified:
		result := &CatalogResponse{NotModified: true}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				result.LastModified = t
			}
		}
		return result, nil
	}
	return nil, &StatusError{Service: "catalog service", StatusCode: resp.StatusCode}
}
