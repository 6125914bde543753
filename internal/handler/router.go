package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes bundles everything the API router mounts
type Routes struct {
	Campaigns   *CampaignHandler
	Preview     *PreviewHandler
	Unsubscribe *UnsubscribeHandler
	Health      *HealthHandler
	Metrics     http.Handler
	Middleware  []mux.MiddlewareFunc
}

// NewRouter wires the admin API, the public unsubscribe links, /health and /metrics
func NewRouter(routes Routes) *mux.Router {
	router := mux.NewRouter()
	router.Use(routes.Middleware...)

	if routes.Health != nil {
		router.HandleFunc("/health", routes.Health.HandleHealth).Methods(http.MethodGet)
	}
	if routes.Metrics != nil {
		router.Handle("/metrics", routes.Metrics).Methods(http.MethodGet)
	}

	if u := routes.Unsubscribe; u != nil {
		router.HandleFunc("/unsubscribe/{token}", u.Show).Methods(http.MethodGet)
		router.HandleFunc("/unsubscribe/{token}", u.OneClick).Methods(http.MethodPost)
	}

	api := router.PathPrefix("/api").Subrouter()
	if c := routes.Campaigns; c != nil {
		api.HandleFunc("/campaigns", c.Create).Methods(http.MethodPost)
		api.HandleFunc("/campaigns", c.List).Methods(http.MethodGet)
		api.HandleFunc("/campaigns/{id}", c.GetByID).Methods(http.MethodGet)
		api.HandleFunc("/campaigns/{id}/recipients", c.AddRecipients).Methods(http.MethodPost)
		api.HandleFunc("/campaigns/{id}/recipients", c.ListRecipients).Methods(http.MethodGet)
		api.HandleFunc("/campaigns/{id}/launch", c.Launch).Methods(http.MethodPost)
		api.HandleFunc("/campaigns/{id}/retry", c.Retry).Methods(http.MethodPost)
		api.HandleFunc("/campaigns/{id}/resend", c.Resend).Methods(http.MethodPost)
	}
	if p := routes.Preview; p != nil {
		api.HandleFunc("/campaigns/{id}/preview", p.Preview).Methods(http.MethodPost)
	}

	return router
}
