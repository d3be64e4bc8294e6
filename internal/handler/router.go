package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/grouptoken-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса групповой лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		// Все операции атрибутируются: шлюз обязан передать действующее лицо.
		r.Use(h.identityMiddleware.Middleware)

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Get("/", h.ListGroups)
			r.Get("/invite/{code}", h.GetGroupByInviteCode)

			r.Route("/{groupID}", func(r chi.Router) {
				r.Get("/", h.GetGroup)
				r.Patch("/", h.UpdateGroup)
				r.Delete("/", h.DeactivateGroup)

				r.Route("/memberships", func(r chi.Router) {
					r.Post("/", h.RequestMembership)
					r.Get("/", h.ListMembers)
					r.Post("/{shopID}/approve", h.ApproveMembership)
					r.Post("/{shopID}/reject", h.RejectMembership)
					r.Delete("/{shopID}", h.RemoveMembership)
				})

				r.Post("/earn", h.Earn)
				r.Post("/redeem", h.Redeem)

				r.Get("/balance", h.GetBalance)
				r.Get("/transactions", h.GetGroupTransactions)
				r.Get("/transactions/my", h.GetCustomerTransactions)
			})
		})

		r.Get("/shop/groups", h.GetShopGroups)
		r.Get("/customer/balances", h.GetCustomerBalances)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
