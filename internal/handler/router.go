package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"paperreader/internal/domain"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	documentHandler *DocumentHandler,
	healthHandler *HealthHandler,
	apiPrefix string,
	corsOrigins []string,
	logger domain.Logger,
) http.Handler {
	router := mux.NewRouter()
	router.Use(RequestLogger(logger))

	router.HandleFunc("/health", healthHandler.Health).Methods("GET")

	api := router.PathPrefix(apiPrefix).Subrouter()

	api.HandleFunc("/health", healthHandler.Health).Methods("GET")
	api.HandleFunc("/health/ping", healthHandler.Ping).Methods("GET")

	// Document routes; /documents/list must be registered before /documents/{id}
	api.HandleFunc("/documents/upload", documentHandler.UploadDocument).Methods("POST")
	api.HandleFunc("/documents/list", documentHandler.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", documentHandler.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", documentHandler.DeleteDocument).Methods("DELETE")
	api.HandleFunc("/documents/{id}/images/{image}", documentHandler.GetImage).Methods("GET")
	api.HandleFunc("/documents/{id}/reprocess", documentHandler.ReprocessDocument).Methods("POST")

	api.HandleFunc("/converters", documentHandler.ListConverters).Methods("GET")

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
		},
		MaxAge: 300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler(router)
}
