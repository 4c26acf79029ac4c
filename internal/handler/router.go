package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/loyalty-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Patch("/users/{userID}", h.UpdateUser)

			r.Post("/transactions", h.CreateTransaction)
			r.Post("/transactions/transfer", h.Transfer)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/balance", h.GetBalance)

			r.Route("/events", func(r chi.Router) {
				r.Post("/", h.CreateEvent)
				r.Get("/", h.ListEvents)

				r.Route("/{eventID}", func(r chi.Router) {
					r.Get("/", h.GetEvent)
					r.Patch("/", h.EditEvent)
					r.Post("/publish", h.PublishEvent)
					r.Delete("/", h.DeleteEvent)

					r.Post("/guests/me", h.Rsvp)
					r.Post("/guests", h.AddGuest)
					r.Delete("/guests/{handle}", h.RemoveGuest)
					r.Post("/organizers", h.AddOrganizer)
					r.Post("/awards", h.Award)
				})
			})

			r.Post("/promotions", h.CreatePromotion)
			r.Get("/promotions", h.ListPromotions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
