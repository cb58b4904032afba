// Package server provides the REST boundary of the fulfilment dispatch
// service: job submission in front of the dispatcher, the publish-event
// webhook that drives cache invalidation, and diagnostics.
package server

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/navlib/stevedore/dispatch"
	"github.com/navlib/stevedore/respcache"
	"github.com/navlib/stevedore/upstream"
	"github.com/navlib/stevedore/util"
)

// Version is the version string reported by the welcome route. Set at
// build time.
var Version = "devel"

// A CatalogResolver is the slice of the catalog service the job boundary
// needs: the three request forms that name products indirectly.
// *upstream.CatalogClient implements it.
type CatalogResolver interface {
	ProductsByIdentifiers(ctx context.Context, names []string) (*upstream.CatalogResponse, error)
	ProductsByVersions(ctx context.Context, versions []upstream.ProductVersion) (*upstream.CatalogResponse, error)
	ProductsSince(ctx context.Context, since time.Time) (*upstream.CatalogResponse, error)
}

// RESTServer holds the configuration for a fulfilment dispatch server.
//
// Set the public fields and then call Run. Run will listen on the given
// port and handle requests until Stop is called. Do not change any fields
// after calling Run.
type RESTServer struct {
	// PortNumber to listen on. Defaults to 14010.
	PortNumber string
	PProfPort  string

	// Dispatcher runs fulfilment requests. Run panics if it is nil.
	Dispatcher *dispatch.Dispatcher

	// Cache is the response cache the webhook invalidates. Run panics if
	// it is nil.
	Cache *respcache.Cache

	// Catalog resolves the identifier, version, and since-datetime
	// request forms into concrete products. nil means submissions using
	// those forms are rejected.
	Catalog CatalogResolver

	// ExternalURL is the base URL clients reach this server on. It is
	// used to build the Location of newly created jobs. Empty means
	// bare paths.
	ExternalURL string

	counter util.Counter // request ordinal source
	jobs    jobRegistry
	server  httpdown.Server
}

// expvar counters for the /debug/vars route
var (
	xJobsReceived    = expvar.NewInt("jobs.received")
	xJobsDispatched  = expvar.NewInt("jobs.dispatched")
	xJobsFailed      = expvar.NewInt("jobs.failed")
	xWebhookReceived = expvar.NewInt("webhook.received")
	xWebhookRejected = expvar.NewInt("webhook.rejected")
)

// Run starts the server. It blocks listening for and handling requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Stevedore Server version %s", Version)
	if s.Dispatcher == nil {
		panic("No dispatcher given. Dispatcher is nil.")
	}
	if s.Cache == nil {
		panic("No response cache given. Cache is nil.")
	}
	if s.PortNumber == "" {
		s.PortNumber = "14010"
	}
	s.jobs.init()

	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop will stop the server and return when all the server goroutines have
// exited and the socket closed.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		// fulfilment jobs
		{"POST", "/jobs", s.NewJobHandler},
		{"GET", "/jobs", s.ListJobsHandler},
		{"GET", "/jobs/:id", s.JobInfoHandler},

		// cache invalidation webhook
		{"POST", "/webhook", s.WebhookHandler},
		{"OPTIONS", "/webhook", WebhookOptionsHandler},

		// other
		{"GET", "/", WelcomeHandler},
		{"GET", "/debug/vars", VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, logWrapper(route.handler))
	}
	return r
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

// WelcomeHandler says hello and gives the version.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Stevedore fulfilment dispatch (%s)\n", Version)
}

// VarHandler adapts the expvar default handler to the httprouter three
// parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// apiError is one entry in a structured error response body.
type apiError struct {
	Source      string `json:"source"`
	Description string `json:"description"`
}

// writeErrors renders the structured error body {errors: [...]} with the
// given status code.
func writeErrors(w http.ResponseWriter, status int, errs ...apiError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Errors []apiError `json:"errors"`
	}{Errors: errs})
}

// correlationID returns the inbound correlation id, generating one when
// the caller did not send any.
func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return util.NewID()
}
