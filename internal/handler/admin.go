package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dcravey/gantry/internal/identity"
	"github.com/dcravey/gantry/internal/middleware"
	"github.com/dcravey/gantry/internal/version"
)

// AdminStats reports operational counters. Reachable only through the
// admin composition, so the caller is already on the allow-list.
//
//	GET /v1/admin/stats
func AdminStats(store *TaskStore, ks *identity.KeyStore, started time.Time) http.Handler {
	return middleware.E(func(w http.ResponseWriter, r *http.Request) error {
		id, _ := middleware.IdentityFromContext(r.Context())

		stats := map[string]any{
			"version":         version.Version,
			"uptime_seconds":  int(time.Since(started).Seconds()),
			"tasks_by_status": store.CountByStatus(),
			"requested_by":    id.UserID,
		}
		if ks != nil {
			stats["api_keys_loaded"] = ks.Count()
		}

		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(stats)
	})
}
