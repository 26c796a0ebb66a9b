package daemon

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/fluxcd/ecs-bluegreen/pkg/http"
)

func TestRouterImplementsServer(t *testing.T) {
	router := NewRouter()
	// Calling NewHandler attaches handlers to the router
	NewHandler(nil, router)
	err := transport.ImplementsServer(router)
	if err != nil {
		t.Error(err)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := NewHandler(nil, NewRouter())

	req := httptest.NewRequest("GET", "/v2/deployments", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"missing"`)
	assert.Contains(t, rec.Body.String(), "/v2/deployments")
}

func TestStartRun_BadTopology(t *testing.T) {
	handler := NewHandler(nil, NewRouter())

	req := httptest.NewRequest("POST", "/v1/runs", strings.NewReader(`{"cluster": "prod", "servce": "web"}`))
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"user"`)
}

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, tc := range []struct {
		name   string
		token  string
		header string
		code   int
	}{
		{"no token configured", "", "", http.StatusNoContent},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"wrong token", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
		{"right token", "s3cret", "Bearer s3cret", http.StatusNoContent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			RequireToken(tc.token, ok).ServeHTTP(rec, req)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}
