package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/navlib/stevedore/product"
	"github.com/navlib/stevedore/util"
)

// A WebhookEvent is the publish notification sent by the file-batch
// service when a new file is published. Only the attributes naming a
// product key and the batch id matter for invalidation; the rest is
// carried for logging.
type WebhookEvent struct {
	Type   string           `json:"type"`
	Source string           `json:"source"`
	ID     string           `json:"id"`
	Data   WebhookEventData `json:"data"`
}

// WebhookEventData is the envelope inside a webhook event.
type WebhookEventData struct {
	Data WebhookBatchData `json:"data"`
}

// WebhookBatchData describes the published batch the event announces.
type WebhookBatchData struct {
	Links              json.RawMessage    `json:"links"`
	BusinessUnit       string             `json:"businessUnit"`
	Attributes         []product.KeyValue `json:"attributes"`
	BatchID            string             `json:"batchId"`
	BatchPublishedDate string             `json:"batchPublishedDate"`
}

// WebhookHandler consumes a publish notification and evicts the cache
// entry for the product the event names. Invalidation is unconditional
// and idempotent; an event for a product that was never cached succeeds.
// An event that cannot be mapped to a well-formed product key is rejected
// with a 400 and a structured reason.
func (s *RESTServer) WebhookHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	xWebhookReceived.Add(1)
	ctx := util.WithCorrelationID(r.Context(), correlationID(r))

	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		xWebhookRejected.Add(1)
		writeErrors(w, http.StatusBadRequest, apiError{
			Source:      "requestBody",
			Description: "cannot parse event payload: " + err.Error(),
		})
		return
	}

	key, err := product.KeyFromAttributes(event.Data.Data.Attributes)
	if err != nil {
		xWebhookRejected.Add(1)
		writeErrors(w, http.StatusBadRequest, apiError{
			Source:      "data.attributes",
			Description: err.Error(),
		})
		return
	}

	if err := s.Cache.Invalidate(ctx, key); err != nil {
		// a storage fault, not a bad event. surface it as such.
		log.Printf("webhook: invalidate %s: %s", key, err.Error())
		writeErrors(w, http.StatusInternalServerError, apiError{
			Source:      "cache",
			Description: err.Error(),
		})
		return
	}

	log.Printf("webhook: invalidated %s (batch %s)", key, event.Data.Data.BatchID)
	w.WriteHeader(http.StatusOK)
}

// WebhookOptionsHandler answers the endpoint-validation handshake the
// event publisher performs before it starts delivering events.
func WebhookOptionsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.Header().Set("WebHook-Allowed-Origin", r.Header.Get("WebHook-Request-Origin"))
	w.Header().Set("WebHook-Allowed-Rate", "*")
	w.WriteHeader(http.StatusOK)
}
