package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
)

func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/v1/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/v1/version")

	r.NewRoute().Name(StartRun).Methods("POST").Path("/v1/runs")
	r.NewRoute().Name(ListRuns).Methods("GET").Path("/v1/runs")
	r.NewRoute().Name(GetRun).Methods("GET").Path("/v1/runs/{id}")
	r.NewRoute().Name(RunStatus).Methods("GET").Path("/v1/runs/{id}/status")
	r.NewRoute().Name(RunEvents).Methods("GET").Path("/v1/runs/{id}/events")
	r.NewRoute().Name(Decide).Methods("POST").Path("/v1/runs/{id}/approval")
	r.NewRoute().Name(Retry).Methods("POST").Path("/v1/runs/{id}/retry")
	r.NewRoute().Name(Discard).Methods("POST").Path("/v1/runs/{id}/discard")

	return r
}

// ImplementsServer reports an error naming every route in the router
// that has no handler attached.
func ImplementsServer(router *mux.Router) error {
	var missing []string
	router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if route.GetHandler() == nil {
			missing = append(missing, route.GetName())
		}
		return nil
	})
	if len(missing) > 0 {
		return errors.Errorf("no handlers for routes: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MakeURL builds the URL for a named route. urlParams are name/value
// pairs; those naming a path variable (e.g., "id") fill it in, and
// the rest become query parameters.
func MakeURL(endpoint string, router *mux.Router, routeName string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route template %s", routeName)
	}

	var pathPairs []string
	q := url.Values{}
	for i := 0; i < len(urlParams); i += 2 {
		if strings.Contains(tmpl, "{"+urlParams[i]+"}") {
			pathPairs = append(pathPairs, urlParams[i], urlParams[i+1])
			continue
		}
		if urlParams[i+1] != "" {
			q.Add(urlParams[i], urlParams[i+1])
		}
	}
	routeURL, err := route.URLPath(pathPairs...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = q.Encode()
	return endpointURL, nil
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	// Clients that can decode JSON errors say so in Accept; anyone
	// else just gets the error text.
	if len(r.Header.Get("Accept")) > 0 {
		switch negotiateContentType(r, []string{"application/json", "text/plain"}) {
		case "application/json":
			body, encodeErr := json.Marshal(err)
			if encodeErr != nil {
				w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
				return
			}
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
			w.WriteHeader(code)
			w.Write(body)
			return
		case "text/plain":
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
			w.WriteHeader(code)
			switch err := err.(type) {
			case *bgerr.Error:
				fmt.Fprint(w, err.Help)
			default:
				fmt.Fprint(w, err.Error())
			}
			return
		}
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ErrorResponse writes an API error with the status code its type
// calls for. Anything that is not an API error is a server error.
func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var outErr *bgerr.Error
	if !errors.As(apiError, &outErr) {
		outErr = bgerr.CoverAllError(apiError)
	}
	code := http.StatusInternalServerError
	switch outErr.Type {
	case bgerr.Missing:
		code = http.StatusNotFound
	case bgerr.User:
		code = http.StatusUnprocessableEntity
	}
	WriteError(w, r, code, outErr)
}
