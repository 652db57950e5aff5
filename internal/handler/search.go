package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dcravey/gantry/internal/middleware"
)

// SearchTasks performs a substring search over task names and
// descriptions. The q parameter is required by the route schema; limit
// defaults to 20.
//
//	GET /v1/search
func SearchTasks(store *TaskStore) http.Handler {
	return middleware.E(func(w http.ResponseWriter, r *http.Request) error {
		v := middleware.ValidatedFromContext(r.Context())

		q, _ := v.Query["q"].(string)
		limit, ok := v.Query["limit"].(int)
		if !ok {
			limit = 20
		}

		results := store.Search(q, limit)
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(map[string]any{
			"query":   q,
			"results": results,
			"count":   len(results),
		})
	})
}
