package http

import (
	"net/http"
	"testing"
)

func Test_NegotiateContentType(t *testing.T) {
	offers := []string{"application/json", "text/plain"}

	// No Accept header: first offer.
	if got := negotiateContentType(&http.Request{}, offers); got != "application/json" {
		t.Errorf("No header: expected application/json, got %q", got)
	}

	// Nothing acceptable.
	h := http.Header{}
	h.Add("Accept", "text/html;q=0.9")
	h.Add("Accept", "image/png")
	if got := negotiateContentType(&http.Request{Header: h}, offers); got != "" {
		t.Errorf("No match: expected empty string, got %q", got)
	}

	// Equal quality: the earlier offer.
	h = http.Header{}
	h.Add("Accept", "text/html,text/plain,application/json")
	if got := negotiateContentType(&http.Request{Header: h}, offers); got != "application/json" {
		t.Errorf("Equal quality: expected application/json, got %q", got)
	}

	// Quality beats offer order.
	h = http.Header{}
	h.Add("Accept", "application/json;q=0.5,text/plain;q=1.0")
	if got := negotiateContentType(&http.Request{Header: h}, offers); got != "text/plain" {
		t.Errorf("Quality beats preference: expected text/plain, got %q", got)
	}
}
