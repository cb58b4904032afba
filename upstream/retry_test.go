package upstream

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/navlib/stevedore/util"
)

func fastTransport() *Transport {
	return &Transport{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	// three 503s then a 200 on a client configured for 3 retries: the
	// caller sees the 200 and never an error.
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	}))
	defer ts.Close()

	client := &http.Client{Transport: fastTransport()}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, expected 200", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Errorf("server saw %d calls, expected 4", n)
	}
}

func TestRetryExhaustedReturnsLastResponse(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	tr := fastTransport()
	tr.MaxRetries = 2
	client := &http.Client{Transport: tr}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, expected 429", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server saw %d calls, expected 3", n)
	}
}

func TestNoRetryOnFatalStatus(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := &http.Client{Transport: fastTransport()}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	resp.Body.Close()
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server saw %d calls, expected 1", n)
	}
}

func TestNoRetryOn304(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotModified)
	}))
	defer ts.Close()

	client := &http.Client{Transport: fastTransport()}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("status = %d, expected 304", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server saw %d calls, expected 1", n)
	}
}

func TestCorrelationIDPreservedAcrossRetries(t *testing.T) {
	var ids []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get(HeaderCorrelationID))
		if len(ids) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	}))
	defer ts.Close()

	ctx := util.WithCorrelationID(context.Background(), "corr-42")
	req, _ := http.NewRequest("GET", ts.URL, nil)
	client := &http.Client{Transport: fastTransport()}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	resp.Body.Close()

	if len(ids) != 3 {
		t.Fatalf("server saw %d attempts, expected 3", len(ids))
	}
	for i, id := range ids {
		if id != "corr-42" {
			t.Errorf("attempt %d sent correlation id %q", i+1, id)
		}
	}
}

func TestRetryReplaysRequestBody(t *testing.T) {
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := ioutil.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	}))
	defer ts.Close()

	client := &http.Client{Transport: fastTransport()}
	resp, err := client.Post(ts.URL, "application/json", strings.NewReader(`["DE416080"]`))
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	resp.Body.Close()
	if len(bodies) != 2 {
		t.Fatalf("server saw %d attempts, expected 2", len(bodies))
	}
	if bodies[0] != bodies[1] || bodies[1] != `["DE416080"]` {
		t.Errorf("bodies = %q", bodies)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := fastTransport()
	tr.InitialDelay = time.Hour // a retry wait we expect to be cut short
	client := &http.Client{Transport: tr}

	req, _ := http.NewRequest("GET", ts.URL, nil)
	done := make(chan error, 1)
	go func() {
		_, err := client.Do(req.WithContext(ctx))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error from a cancelled request")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request did not return")
	}
}
