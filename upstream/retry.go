// Package upstream wraps the two upstream services the dispatcher relies
// on: the product catalog service and the file-batch service. All calls go
// through a retrying transport which classifies responses and backs off on
// transient failures.
package upstream

import (
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"time"

	"github.com/navlib/stevedore/util"
)

// HeaderCorrelationID is the outbound header carrying the request's
// correlation id. Every retry attempt sends the same value so upstream
// logs remain joinable.
const HeaderCorrelationID = "X-Correlation-ID"

// A Class is the coarse classification of one upstream response.
type Class int

const (
	// Success is any 2xx response.
	Success Class = iota
	// NotModified is a 304. It is a valid outcome carrying a
	// last-modified timestamp, not an error.
	NotModified
	// Retryable covers 429, 503 and connection-level faults.
	Retryable
	// Fatal covers every other failure, e.g. 4xx responses and
	// malformed bodies.
	Fatal
)

// Classify maps a response (or transport error) to a Class using the
// default policy.
func Classify(resp *http.Response, err error) Class {
	if err != nil {
		return Retryable
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success
	case resp.StatusCode == http.StatusNotModified:
		return NotModified
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		return Retryable
	}
	return Fatal
}

// DefaultMaxRetries is the number of retries after the initial attempt.
const DefaultMaxRetries = 3

// Transport is an http.RoundTripper decorator applying retry with
// exponential backoff to transient upstream failures. It is independent of
// the specific upstream being called; the classification function decides
// what is transient.
//
// After the retries are exhausted the last response (or error) is returned
// as-is, so callers decide whether to surface it or convert it to a cache
// miss.
type Transport struct {
	// Base performs the actual requests. nil means
	// http.DefaultTransport.
	Base http.RoundTripper

	// MaxRetries is the retry cap after the first attempt. Zero means
	// DefaultMaxRetries; use a negative value for no retries.
	MaxRetries int

	// InitialDelay and MaxDelay bound the backoff. Zero means 100ms and
	// 5s respectively. Each retry doubles the delay, plus up to 25%
	// jitter.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Classify overrides the default classification policy.
	Classify func(*http.Response, error) Class
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) classify(resp *http.Response, err error) Class {
	if t.Classify != nil {
		return t.Classify(resp, err)
	}
	return Classify(resp, err)
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	maxRetries := t.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	} else if maxRetries < 0 {
		maxRetries = 0
	}
	delay := t.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxDelay := t.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	// keep the correlation id on the wire even if the caller only put it
	// on the context
	if req.Header.Get(HeaderCorrelationID) == "" {
		if id := util.CorrelationID(req.Context()); id != "" {
			req = cloneRequest(req)
			req.Header.Set(HeaderCorrelationID, id)
		}
	}

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = t.base().RoundTrip(req)
		if t.classify(resp, err) != Retryable || attempt == maxRetries {
			return resp, err
		}
		if req.Body != nil && req.GetBody == nil {
			// cannot replay the body, so no retry is possible
			return resp, err
		}
		if resp != nil {
			// drain so the connection can be reused
			io.Copy(ioutil.Discard, resp.Body)
			resp.Body.Close()
		}

		sleep := delay + time.Duration(rand.Int63n(int64(delay/4)+1))
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}

		if req.Body != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return resp, err
			}
			req = cloneRequest(req)
			req.Body = body
		}
	}
}

// cloneRequest makes a shallow copy of req with a deep copy of its
// headers.
func cloneRequest(req *http.Request) *http.Request {
	r := req.WithContext(req.Context())
	r.Header = make(http.Header, len(req.Header))
	for k, v := range req.Header {
		r.Header[k] = append([]string(nil), v...)
	}
	return r
}
