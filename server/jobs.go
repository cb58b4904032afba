package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/navlib/stevedore/dispatch"
	"github.com/navlib/stevedore/product"
	"github.com/navlib/stevedore/upstream"
	"github.com/navlib/stevedore/util"
)

// Job states.
const (
	StatusReceived   = "received"
	StatusDispatched = "dispatched"
	StatusFailed     = "failed"
)

// A Job tracks one fulfilment request through the dispatcher.
type Job struct {
	ID            string           `json:"id"`
	BatchID       string           `json:"batchId"`
	Status        string           `json:"status"`
	Mode          string           `json:"mode"`
	CorrelationID string           `json:"correlationId"`
	Submitted     time.Time        `json:"submitted"`
	Finished      time.Time        `json:"finished,omitempty"`
	Result        *dispatch.Result `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// jobRegistry keeps finished and in-flight jobs in memory. Records are
// kept for the life of the process; there are few enough jobs that
// pruning has not been needed.
type jobRegistry struct {
	m    sync.RWMutex
	jobs map[string]*Job
}

func (jr *jobRegistry) init() {
	jr.jobs = make(map[string]*Job)
}

func (jr *jobRegistry) add(jb *Job) {
	jr.m.Lock()
	jr.jobs[jb.ID] = jb
	jr.m.Unlock()
}

// get returns a copy of the named job, so callers never see a record
// mid-update.
func (jr *jobRegistry) get(id string) (Job, bool) {
	jr.m.RLock()
	defer jr.m.RUnlock()
	jb, ok := jr.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *jb, true
}

func (jr *jobRegistry) list() []Job {
	jr.m.RLock()
	defer jr.m.RUnlock()
	result := make([]Job, 0, len(jr.jobs))
	for _, jb := range jr.jobs {
		result = append(result, *jb)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Submitted.Before(result[j].Submitted)
	})
	return result
}

func (jr *jobRegistry) finish(id string, res *dispatch.Result, err error) {
	jr.m.Lock()
	defer jr.m.Unlock()
	jb, ok := jr.jobs[id]
	if !ok {
		return
	}
	jb.Finished = time.Now()
	if err != nil {
		jb.Status = StatusFailed
		jb.Error = err.Error()
		return
	}
	jb.Status = StatusDispatched
	jb.Result = res
}

// jobSubmission is the request body for POST /jobs. Products can be named
// four ways, combined freely: fully resolved (products), by identifier
// (productIdentifiers), by held version (productVersions), or everything
// changed since a datetime (sinceDateTime). The last three are resolved
// through the catalog service before dispatch.
type jobSubmission struct {
	Products []struct {
		ProductName   string `json:"productName"`
		EditionNumber int    `json:"editionNumber"`
		UpdateNumber  int    `json:"updateNumber"`
		FileSize      int64  `json:"fileSize"`
	} `json:"products"`
	ProductIdentifiers []string                  `json:"productIdentifiers"`
	ProductVersions    []upstream.ProductVersion `json:"productVersions"`
	SinceDateTime      string                    `json:"sinceDateTime"`

	BatchID        string `json:"batchId"`
	CallbackURI    string `json:"callbackUri"`
	ScsResponseURI string `json:"scsResponseUri"`
}

func (sub *jobSubmission) wantsCatalog() bool {
	return len(sub.ProductIdentifiers) > 0 || len(sub.ProductVersions) > 0 ||
		sub.SinceDateTime != ""
}

// NewJobHandler accepts a fulfilment request, registers a job for it, and
// runs the dispatch in the background. The response is a 202 with the job
// record; poll GET /jobs/:id for the outcome. Pass ?mode=scheduled to run
// the request in scheduled mode.
func (s *RESTServer) NewJobHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	xJobsReceived.Add(1)

	var sub jobSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeErrors(w, http.StatusBadRequest, apiError{
			Source:      "requestBody",
			Description: "cannot parse job payload: " + err.Error(),
		})
		return
	}
	if len(sub.Products) == 0 && !sub.wantsCatalog() {
		writeErrors(w, http.StatusBadRequest, apiError{
			Source:      "products",
			Description: "at least one product is required",
		})
		return
	}

	mode := dispatch.ModeStandard
	switch r.URL.Query().Get("mode") {
	case "", "standard":
	case "scheduled":
		mode = dispatch.ModeScheduled
	default:
		writeErrors(w, http.StatusBadRequest, apiError{
			Source:      "mode",
			Description: "mode must be standard or scheduled",
		})
		return
	}

	cid := correlationID(r)
	ctx := util.WithCorrelationID(r.Context(), cid)

	var refs []dispatch.ProductRef
	for i, p := range sub.Products {
		key := product.Key{
			ProductName:   p.ProductName,
			EditionNumber: p.EditionNumber,
			UpdateNumber:  p.UpdateNumber,
		}
		if err := key.Validate(); err != nil {
			writeErrors(w, http.StatusBadRequest, apiError{
				Source:      "products",
				Description: "product at index " + strconv.Itoa(i) + ": " + err.Error(),
			})
			return
		}
		refs = append(refs, dispatch.ProductRef{Key: key, FileSize: p.FileSize})
	}

	if sub.wantsCatalog() {
		resolved, apiErr := s.resolveCatalog(ctx, &sub)
		if apiErr != nil {
			if apiErr.Source == "catalog" {
				writeErrors(w, http.StatusServiceUnavailable, *apiErr)
			} else {
				writeErrors(w, http.StatusBadRequest, *apiErr)
			}
			return
		}
		refs = append(refs, resolved...)
	}
	if len(refs) == 0 {
		writeErrors(w, http.StatusBadRequest, apiError{
			Source:      "products",
			Description: "the request resolved to no products",
		})
		return
	}

	// the batch id is the idempotency key the downstream worker dedupes
	// on, so every job carries one even if the caller did not supply it
	batchID := sub.BatchID
	if batchID == "" {
		batchID = util.NewID()
	}

	req := dispatch.Request{
		Products:       refs,
		BatchID:        batchID,
		CallbackURI:    sub.CallbackURI,
		CorrelationID:  cid,
		ScsResponseURI: sub.ScsResponseURI,
		Ordinal:        s.counter.Next(),
	}

	jb := &Job{
		ID:            util.NewID(),
		BatchID:       batchID,
		Status:        StatusReceived,
		Mode:          mode.String(),
		CorrelationID: cid,
		Submitted:     time.Now(),
	}
	s.jobs.add(jb)

	go s.runJob(jb.ID, req, mode)

	loc := "/jobs/" + jb.ID
	if s.ExternalURL != "" {
		loc = s.ExternalURL + loc
	}
	w.Header().Set("Location", loc)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(jb)
}

// resolveCatalog turns the catalog request forms of a submission into
// concrete product refs. The returned apiError, when non-nil, names the
// offending part of the submission; source "catalog" means the catalog
// service itself is unavailable or unconfigured.
func (s *RESTServer) resolveCatalog(ctx context.Context, sub *jobSubmission) ([]dispatch.ProductRef, *apiError) {
	if s.Catalog == nil {
		return nil, &apiError{
			Source:      "catalog",
			Description: "no catalog service is configured for product resolution",
		}
	}

	var refs []dispatch.ProductRef
	if len(sub.ProductIdentifiers) > 0 {
		resp, err := s.Catalog.ProductsByIdentifiers(ctx, sub.ProductIdentifiers)
		if err != nil {
			return nil, &apiError{Source: "catalog", Description: err.Error()}
		}
		refs = append(refs, expandCatalogProducts(resp.Products)...)
	}
	if len(sub.ProductVersions) > 0 {
		resp, err := s.Catalog.ProductsByVersions(ctx, sub.ProductVersions)
		if err != nil {
			return nil, &apiError{Source: "catalog", Description: err.Error()}
		}
		refs = append(refs, expandCatalogProducts(resp.Products)...)
	}
	if sub.SinceDateTime != "" {
		since, err := time.Parse(time.RFC3339, sub.SinceDateTime)
		if err != nil {
			return nil, &apiError{
				Source:      "sinceDateTime",
				Description: "not an RFC 3339 datetime: " + sub.SinceDateTime,
			}
		}
		resp, err := s.Catalog.ProductsSince(ctx, since)
		if err != nil {
			return nil, &apiError{Source: "catalog", Description: err.Error()}
		}
		// a 304 means nothing changed; it contributes no products
		if !resp.NotModified {
			refs = append(refs, expandCatalogProducts(resp.Products)...)
		}
	}
	return refs, nil
}

// expandCatalogProducts flattens catalog entries into one ref per update.
// An entry with no update list stands alone; edition 0 entries (cancelled
// products) are kept, cancellation being a cacheable answer.
func expandCatalogProducts(products []upstream.CatalogProduct) []dispatch.ProductRef {
	var refs []dispatch.ProductRef
	for _, p := range products {
		if len(p.UpdateNumbers) == 0 {
			refs = append(refs, dispatch.ProductRef{
				Key: product.Key{
					ProductName:   p.ProductName,
					EditionNumber: p.EditionNumber,
				},
				FileSize: p.FileSize,
			})
			continue
		}
		for _, u := range p.UpdateNumbers {
			refs = append(refs, dispatch.ProductRef{
				Key: product.Key{
					ProductName:   p.ProductName,
					EditionNumber: p.EditionNumber,
					UpdateNumber:  u,
				},
				FileSize: p.FileSize,
			})
		}
	}
	return refs
}

// runJob drives one dispatch to completion and records the outcome. It
// runs detached from the submitting request, so a client hanging up does
// not abandon the fulfilment.
func (s *RESTServer) runJob(id string, req dispatch.Request, mode dispatch.Mode) {
	ctx := util.WithCorrelationID(context.Background(), req.CorrelationID)
	res, err := s.Dispatcher.Dispatch(ctx, req, mode)
	s.jobs.finish(id, res, err)
	if err != nil {
		xJobsFailed.Add(1)
		log.Printf("job %s: dispatch failed: %s", id, err.Error())
		return
	}
	xJobsDispatched.Add(1)
	log.Printf("job %s: dispatched to %s (%d hits, %d misses)",
		id, res.QueueName, res.CacheHits, res.CacheMisses)
}

// ListJobsHandler returns every known job, oldest first.
func (s *RESTServer) ListJobsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.jobs.list())
}

// JobInfoHandler returns the named job, or a 404 when it is unknown.
func (s *RESTServer) JobInfoHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	jb, ok := s.jobs.get(id)
	if !ok {
		writeErrors(w, http.StatusNotFound, apiError{
			Source:      "id",
			Description: "no job with id " + id,
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jb)
}
