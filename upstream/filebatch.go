package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/navlib/stevedore/product"
)

// Batch states reported by the file-batch service. Committed is terminal:
// the batch's files are ready for download.
const (
	BatchStatusIncomplete = "Incomplete"
	BatchStatusCommitting = "CommitInProgress"
	BatchStatusCommitted  = "Committed"
	BatchStatusFailed     = "Failed"
)

// A FileBatchClient talks to the file-batch service: attribute search for
// published batches, batch status polling, and file download by link.
type FileBatchClient struct {
	// BaseURL of the file-batch service, without a trailing slash.
	BaseURL string
	// APIKey is sent as X-Api-Key on every request. Empty disables it.
	APIKey string
	// HTTP is the client used for requests. nil means a client with the
	// default retrying Transport and a 30 second timeout.
	HTTP *http.Client
}

// wire shapes of the file-batch service

type batchSearchResponse struct {
	Count   int          `json:"count"`
	Entries []batchEntry `json:"entries"`
}

type batchEntry struct {
	BatchID       string             `json:"batchId"`
	Status        string             `json:"status"`
	Attributes    []product.KeyValue `json:"attributes"`
	PublishedDate string             `json:"batchPublishedDate"`
	Files         []batchFileEntry   `json:"files"`
}

type batchFileEntry struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
	Links    struct {
		Get struct {
			Href string `json:"href"`
		} `json:"get"`
	} `json:"links"`
}

type batchStatusResponse struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

func (c *FileBatchClient) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{
		Transport: &Transport{},
		Timeout:   30 * time.Second,
	}
}

func (c *FileBatchClient) do(req *http.Request) (*http.Response, error) {
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return c.client().Do(req)
}

// Search looks for the published batch matching the given product key. It
// returns (nil, nil) when no batch matches, e.g. a file not yet published;
// that is a normal outcome, not an error.
func (c *FileBatchClient) Search(ctx context.Context, key product.Key) (*product.BatchDetail, error) {
	q := url.Values{}
	q.Set("cellName", key.ProductName)
	q.Set("editionNumber", strconv.Itoa(key.EditionNumber))
	q.Set("updateNumber", strconv.Itoa(key.UpdateNumber))
	req, err := http.NewRequest("GET", c.BaseURL+"/batch?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "batch search")
	}
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "file-batch service")
	}
	defer resp.Body.Close()
	if Classify(resp, nil) != Success {
		return nil, &StatusError{Service: "file-batch service", StatusCode: resp.StatusCode}
	}

	var result batchSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "file-batch service: malformed response")
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}

	entry := result.Entries[0]
	detail := &product.BatchDetail{
		BatchID:    entry.BatchID,
		Status:     entry.Status,
		Attributes: entry.Attributes,
	}
	for _, f := range entry.Files {
		detail.Files = append(detail.Files, product.BatchFile{
			Filename: f.Filename,
			FileSize: f.FileSize,
			Link:     f.Links.Get.Href,
		})
	}
	return detail, nil
}

// Status returns the current status of the given batch.
func (c *FileBatchClient) Status(ctx context.Context, batchID string) (string, error) {
	req, err := http.NewRequest("GET", c.BaseURL+"/batch/"+url.PathEscape(batchID)+"/status", nil)
	if err != nil {
		return "", errors.Wrap(err, "batch status")
	}
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "file-batch service")
	}
	defer resp.Body.Close()
	if Classify(resp, nil) != Success {
		return "", &StatusError{Service: "file-batch service", StatusCode: resp.StatusCode}
	}
	var result batchStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "file-batch service: malformed response")
	}
	return result.Status, nil
}

// WaitCommitted polls the batch status every interval until the batch
// reaches the Committed state, the batch fails, or ctx is done.
func (c *FileBatchClient) WaitCommitted(ctx context.Context, batchID string, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		status, err := c.Status(ctx, batchID)
		if err != nil {
			return err
		}
		switch status {
		case BatchStatusCommitted:
			return nil
		case BatchStatusFailed:
			return fmt.Errorf("batch %s failed", batchID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Download copies the file behind the given retrieval link to w.
func (c *FileBatchClient) Download(ctx context.Context, link string, w io.Writer) error {
	req, err := http.NewRequest("GET", link, nil)
	if err != nil {
		return errors.Wrap(err, "batch download")
	}
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "file-batch service")
	}
	defer resp.Body.Close()
	if Classify(resp, nil) != Success {
		return &StatusError{Service: "file-batch service", StatusCode: resp.StatusCode}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
