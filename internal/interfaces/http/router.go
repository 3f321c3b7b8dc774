package http

import "github.com/go-chi/chi/v5"

// MountAPI registers the /api routes on r.
func MountAPI(r chi.Router, catalogHandler *CatalogHandler, linkHandler *LinkHandler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", catalogHandler.HandleBulkSync)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Post("/sync", catalogHandler.HandleSync)
			r.Get("/items", catalogHandler.HandleItems)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Put("/link", linkHandler.HandleLink)
			r.Get("/items", linkHandler.HandleUserItems)
		})
	})
}
