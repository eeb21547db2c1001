package artifact

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the artifact GET endpoint on router under
// basePath/{id}, per spec.md §6.2. basePath must match the path prefix
// Publisher was constructed with.
func RegisterRoutes(router *mux.Router, cache *Cache, basePath string) {
	router.HandleFunc(basePath+"/{id}", handleGet(cache)).Methods(http.MethodGet)
}

func handleGet(cache *Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		data, contentType, ok := cache.Get(id)
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
