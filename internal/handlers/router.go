package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
)

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
				respondError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// NewRouter assembles the HTTP surface.
func NewRouter(sync *SyncHandler, channels *ChannelHandler, webhooks *WebhookHandler) *mux.Router {
	chain := alice.New(recoverMiddleware, loggingMiddleware)

	router := mux.NewRouter()
	router.Handle("/records/{recordId}/sync", chain.ThenFunc(sync.TriggerSync)).Methods(http.MethodPost)
	router.Handle("/records/{recordId}/profile", chain.ThenFunc(sync.GetProfile)).Methods(http.MethodGet)
	router.Handle("/records/{recordId}/changed", chain.ThenFunc(sync.RecordChanged)).Methods(http.MethodPost)
	router.Handle("/sync/jobs/{jobId}", chain.ThenFunc(sync.GetJob)).Methods(http.MethodGet)

	router.Handle("/channels", chain.ThenFunc(channels.ListChannels)).Methods(http.MethodGet)
	router.Handle("/channels", chain.ThenFunc(channels.UpsertChannel)).Methods(http.MethodPost)
	router.Handle("/channels/{accountId}/enabled", chain.ThenFunc(channels.SetEnabled)).Methods(http.MethodPatch)
	router.Handle("/channels/{accountId}/attendees", chain.ThenFunc(channels.ListAttendees)).Methods(http.MethodGet)

	router.Handle("/webhooks/provider", chain.ThenFunc(webhooks.Handle)).Methods(http.MethodPost)

	router.Handle("/health", chain.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})).Methods(http.MethodGet)

	return router
}
