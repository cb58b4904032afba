package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/navlib/stevedore/product"
)

func batchTestServer(handler http.HandlerFunc) (*FileBatchClient, *httptest.Server) {
	ts := httptest.NewServer(handler)
	client := &FileBatchClient{
		BaseURL: ts.URL,
		HTTP:    &http.Client{Transport: fastTransport()},
	}
	return client, ts
}

func TestSearchFindsBatch(t *testing.T) {
	client, ts := batchTestServer(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("cellName") != "DE416080" || q.Get("editionNumber") != "9" || q.Get("updateNumber") != "6" {
			t.Errorf("query = %v", q)
		}
		fmt.Fprint(w, `{
			"count": 1,
			"entries": [{
				"batchId": "batch-abc",
				"status": "Committed",
				"attributes": [
					{"key": "CellName", "value": "DE416080"},
					{"key": "EditionNumber", "value": "9"},
					{"key": "UpdateNumber", "value": "6"}
				],
				"files": [{
					"filename": "DE416080.000",
					"fileSize": 4096,
					"links": {"get": {"href": "https://files.example/batch-abc/DE416080.000"}}
				}]
			}]
		}`)
	})
	defer ts.Close()

	key := product.Key{ProductName: "DE416080", EditionNumber: 9, UpdateNumber: 6}
	detail, err := client.Search(context.Background(), key)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if detail == nil {
		t.Fatal("Search returned nil detail")
	}
	if detail.BatchID != "batch-abc" || detail.Status != BatchStatusCommitted {
		t.Errorf("detail = %+v", detail)
	}
	if len(detail.Files) != 1 || detail.Files[0].Link == "" {
		t.Errorf("files = %+v", detail.Files)
	}
	// the attributes must round-trip to the same product key
	got, err := product.KeyFromAttributes(detail.Attributes)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if got != key {
		t.Errorf("attributes map to %v, expected %v", got, key)
	}
}

func TestSearchNoBatchIsNotError(t *testing.T) {
	client, ts := batchTestServer(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count": 0, "entries": []}`)
	})
	defer ts.Close()

	detail, err := client.Search(context.Background(), product.Key{ProductName: "DE416080", EditionNumber: 9, UpdateNumber: 7})
	if err != nil {
		t.Fatalf("received %s; an unpublished file is not an error", err.Error())
	}
	if detail != nil {
		t.Errorf("detail = %+v, expected nil", detail)
	}
}

func TestWaitCommitted(t *testing.T) {
	var calls int32
	client, ts := batchTestServer(func(w http.ResponseWriter, r *http.Request) {
		status := BatchStatusCommitting
		if atomic.AddInt32(&calls, 1) >= 3 {
			status = BatchStatusCommitted
		}
		fmt.Fprintf(w, `{"batchId": "batch-abc", "status": %q}`, status)
	})
	defer ts.Close()

	err := client.WaitCommitted(context.Background(), "batch-abc", time.Millisecond)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("polled %d times, expected 3", n)
	}
}

func TestWaitCommittedFailedBatch(t *testing.T) {
	client, ts := batchTestServer(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"batchId": "batch-abc", "status": %q}`, BatchStatusFailed)
	})
	defer ts.Close()

	if err := client.WaitCommitted(context.Background(), "batch-abc", time.Millisecond); err == nil {
		t.Error("expected an error for a failed batch")
	}
}

func TestDownload(t *testing.T) {
	client, ts := batchTestServer(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "chart file contents")
	})
	defer ts.Close()

	var buf bytes.Buffer
	if err := client.Download(context.Background(), ts.URL+"/files/1", &buf); err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if buf.String() != "chart file contents" {
		t.Errorf("downloaded %q", buf.String())
	}
}
