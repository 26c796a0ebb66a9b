package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks one of the offered content types using
// the request's Accept header. Higher quality (`q`) wins; between
// equal qualities, the earlier offer wins. With no Accept header the
// first offer is returned, and with no acceptable offer, "".
func negotiateContentType(r *http.Request, offers []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return offers[0]
	}

	var acceptable []header.AcceptSpec
	for _, spec := range specs {
		if rank(offers, spec.Value) < len(offers) {
			acceptable = append(acceptable, spec)
		}
	}
	if len(acceptable) == 0 {
		return ""
	}
	sort.SliceStable(acceptable, func(i, j int) bool {
		a, b := acceptable[i], acceptable[j]
		if a.Q != b.Q {
			return a.Q > b.Q
		}
		return rank(offers, a.Value) < rank(offers, b.Value)
	})
	return acceptable[0].Value
}

// rank is the position of s in offers, or len(offers) if absent, so
// that absent sorts last.
func rank(offers []string, s string) int {
	for i, o := range offers {
		if o == s {
			return i
		}
	}
	return len(offers)
}
