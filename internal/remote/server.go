package remote

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/roach88/dairyledger/internal/model"
)

// NewServer exposes mem over the HTTP contract spoken by the HTTP remote.
// It backs the stub-remote command and the HTTP remote's tests.
//
//	POST /api/{entity}   submit, keyed by the Idempotency-Key header
//	GET  /api/records    every stored record
//	HEAD /health         200 while mem is up, 503 otherwise
func NewServer(mem *Memory, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", healthHandler(mem)).Methods(http.MethodGet, http.MethodHead)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/records", recordsHandler(mem)).Methods(http.MethodGet)
	api.HandleFunc("/{entity}", submitHandler(mem, logger)).Methods(http.MethodPost)

	return handlers.RecoveryHandler()(router)
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthHandler(mem *Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mem.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func recordsHandler(mem *Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, mem.Records())
	}
}

func submitHandler(mem *Memory, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entity, err := model.ParseEntityType(mux.Vars(r)["entity"])
		if err != nil {
			respondWithJSON(w, http.StatusNotFound, submitResponse{Error: err.Error()})
			return
		}
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			respondWithJSON(w, http.StatusBadRequest, submitResponse{Error: "missing " + IdempotencyHeader + " header"})
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil || !json.Valid(payload) {
			respondWithJSON(w, http.StatusBadRequest, submitResponse{Error: "payload must be JSON"})
			return
		}

		receipt, err := mem.Submit(r.Context(), entity, key, payload)
		switch {
		case err == nil:
			logger.Debug("stub remote accepted record", "entity_type", entity, "key", key, "remote_id", receipt.RemoteID)
			respondWithJSON(w, http.StatusOK, submitResponse{Success: true, RemoteID: receipt.RemoteID})
		case model.IsRejection(err):
			respondWithJSON(w, http.StatusUnprocessableEntity, submitResponse{Error: err.Error()})
		default:
			respondWithJSON(w, http.StatusServiceUnavailable, submitResponse{Error: err.Error()})
		}
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
