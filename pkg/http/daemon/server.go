package daemon

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
	"github.com/fluxcd/ecs-bluegreen/pkg/artifact"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
	transport "github.com/fluxcd/ecs-bluegreen/pkg/http"
	bgmetrics "github.com/fluxcd/ecs-bluegreen/pkg/metrics"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{bgmetrics.LabelMethod, bgmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// An API server for the daemon
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	// We assume every request that doesn't match a route is a client
	// calling an API this daemon doesn't have.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

func NewHandler(s api.Server, r *mux.Router) http.Handler {
	handle := HTTPServer{s}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)

	r.Get(transport.StartRun).HandlerFunc(handle.StartRun)
	r.Get(transport.ListRuns).HandlerFunc(handle.ListRuns)
	r.Get(transport.GetRun).HandlerFunc(handle.GetRun)
	r.Get(transport.RunStatus).HandlerFunc(handle.RunStatus)
	r.Get(transport.RunEvents).HandlerFunc(handle.RunEvents)
	r.Get(transport.Decide).HandlerFunc(handle.Decide)
	r.Get(transport.Retry).HandlerFunc(handle.Retry)
	r.Get(transport.Discard).HandlerFunc(handle.Discard)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

// RequireToken rejects requests that don't carry the token. An empty
// token lets everything through.
func RequireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			transport.WriteError(w, r, http.StatusUnauthorized, transport.ErrorUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type HTTPServer struct {
	server api.Server
}

func runID(r *http.Request) deploy.RunID {
	return deploy.RunID(mux.Vars(r)["id"])
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) StartRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, errors.Wrap(err, "reading topology"))
		return
	}
	topo, err := artifact.ParseTopology(body)
	if err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, &bgerr.Error{
			Type: bgerr.User,
			Help: "The topology was not accepted:\n\n    " + err.Error() + "\n",
			Err:  err,
		})
		return
	}
	id, err := s.server.StartRun(r.Context(), topo)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, id)
}

func (s HTTPServer) ListRuns(w http.ResponseWriter, r *http.Request) {
	queryValues := r.URL.Query()
	opts := api.ListRunsOptions{
		Cluster: queryValues.Get("cluster"),
		Service: queryValues.Get("service"),
	}
	if active := queryValues.Get("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			transport.WriteError(w, r, http.StatusBadRequest, errors.Wrapf(err, "parsing active %q", active))
			return
		}
		opts.Active = b
	}
	if limit := queryValues.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			transport.WriteError(w, r, http.StatusBadRequest, errors.Errorf("invalid limit %q", limit))
			return
		}
		opts.Limit = n
	}

	runs, err := s.server.ListRuns(r.Context(), opts)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	if runs == nil {
		runs = []deploy.RunStatus{}
	}
	transport.JSONResponse(w, r, runs)
}

func (s HTTPServer) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.server.GetRun(r.Context(), runID(r))
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, run)
}

func (s HTTPServer) RunStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.server.RunStatus(r.Context(), runID(r))
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, status)
}

func (s HTTPServer) RunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.server.RunEvents(r.Context(), runID(r))
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, events)
}

func (s HTTPServer) Decide(w http.ResponseWriter, r *http.Request) {
	var approval deploy.Approval
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&approval); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, errors.Wrap(err, "decoding approval"))
		return
	}
	approval.Gate = deploy.Gate(strings.ToLower(string(approval.Gate)))
	approval.Decision = deploy.Decision(strings.ToLower(string(approval.Decision)))
	if err := s.server.Decide(r.Context(), runID(r), approval); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s HTTPServer) Retry(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Retry(r.Context(), runID(r)); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s HTTPServer) Discard(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Discard(r.Context(), runID(r)); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
