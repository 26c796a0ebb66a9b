package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeURL(t *testing.T) {
	router := NewAPIRouter()

	for _, tc := range []struct {
		route    string
		endpoint string
		params   []string
		expected string
	}{
		{Ping, "http://localhost:3030", nil, "http://localhost:3030/v1/ping"},
		{GetRun, "http://localhost:3030/api/bluegreen", []string{"id", "abc"}, "http://localhost:3030/api/bluegreen/v1/runs/abc"},
		{RunStatus, "http://bg", []string{"id", "abc"}, "http://bg/v1/runs/abc/status"},
		{ListRuns, "http://bg", []string{"cluster", "prod", "service", "", "limit", "5"}, "http://bg/v1/runs?cluster=prod&limit=5"},
		{Decide, "http://bg", []string{"id", "abc"}, "http://bg/v1/runs/abc/approval"},
	} {
		u, err := MakeURL(tc.endpoint, router, tc.route, tc.params...)
		require.NoError(t, err, tc.route)
		assert.Equal(t, tc.expected, u.String(), tc.route)
	}
}

func TestMakeURL_UnknownRoute(t *testing.T) {
	_, err := MakeURL("http://bg", NewAPIRouter(), "Export")
	assert.Error(t, err)
}

func TestImplementsServer_ReportsMissing(t *testing.T) {
	err := ImplementsServer(NewAPIRouter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StartRun)
}
