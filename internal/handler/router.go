package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/admissions-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса приёма заявок.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(chimw.Compress(5, "application/json", "text/plain"))
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.With(h.authMiddleware.Middleware).Get("/", h.GetCurrentUser)
	})

	r.Route("/api/offerings", func(r chi.Router) {
		r.Post("/", h.CreateOffering)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetOffering)
			r.Get("/enrollments", h.ListEnrollments)
			r.Get("/selection", h.PreviewSelection)
			r.Post("/admission", h.RunAdmission)

			r.With(h.authMiddleware.Middleware).Post("/enrollments", h.Enroll)
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
