package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/invest-ledger/internal/middleware"
	"github.com/mmeshcher/invest-ledger/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/investments", h.UploadInvestment)
			r.Get("/investments", h.GetInvestments)

			r.Get("/balance", h.GetBalance)

			r.Post("/withdrawals", h.Withdraw)
			r.Get("/withdrawals", h.GetWithdrawals)

			r.Get("/referral", h.GetReferral)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireRole(model.RoleAdmin))

		r.Route("/investments/{id}", func(r chi.Router) {
			r.Post("/approve", h.ApproveInvestment)
			r.Post("/reject", h.RejectInvestment)
			r.Post("/recompute", h.RecomputeInvestment)
			r.Get("/voucher", h.GetVoucher)
		})
		r.Post("/earnings/recompute", h.RecomputeAllEarnings)

		r.Get("/withdrawals", h.ListWithdrawals)
		r.Post("/withdrawals/{id}/settle", h.SettleWithdrawal)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Post("/socios", h.CreateSocio)
	})

	r.Route("/api/socio", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireRole(model.RoleSocio))

		r.Get("/users", h.GetSocioUsers)
		r.Get("/investments", h.GetSocioInvestments)
		r.Get("/withdrawals", h.GetSocioWithdrawals)
		r.Get("/referral", h.GetReferral)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
