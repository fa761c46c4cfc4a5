package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opencoordinator/pbs/internal/auth"
	"github.com/opencoordinator/pbs/internal/metrics"
	"github.com/opencoordinator/pbs/internal/site"
)

// PhaseForPath maps a transaction route onto its protocol phase label.
// The consume routes count as PREPARE, where the substantive work of the
// protocol happens.
func PhaseForPath(path string) metrics.TransactionPhase {
	switch {
	case strings.HasSuffix(path, ":begin"):
		return metrics.PhaseBegin
	case strings.HasSuffix(path, ":prepare"), strings.HasSuffix(path, ":consume-budget"):
		return metrics.PhasePrepare
	case strings.HasSuffix(path, ":commit"):
		return metrics.PhaseCommit
	case strings.HasSuffix(path, ":notify"):
		return metrics.PhaseNotify
	case strings.HasSuffix(path, ":abort"):
		return metrics.PhaseAbort
	case strings.HasSuffix(path, ":end"):
		return metrics.PhaseEnd
	default:
		return metrics.PhaseGetStatus
	}
}

// ClassOf labels the caller as the peer coordinator when its claimed
// identity resolves to the configured peer site.
func ClassOf(claimedIdentity, peerSite string) metrics.OriginClass {
	if peerSite != "" && site.SameSite(claimedIdentity, peerSite) {
		return metrics.OriginCoordinator
	}
	return metrics.OriginOperator
}

// Instrument counts every transaction request, including the ones the
// auth middleware rejects, so it wraps the chain from the outside.
func Instrument(reg *metrics.Registry, peerSite string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			identity := r.Header.Get(auth.HeaderClaimedIdentity)
			reg.ObserveRequest(PhaseForPath(r.URL.Path), ClassOf(identity, peerSite), identity, r.UserAgent(), status)
		})
	}
}
