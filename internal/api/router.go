// Package api serves the admin HTTP API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pysugar/account-nexus/internal/config"
	"github.com/pysugar/account-nexus/internal/nexus"
)

// NewRouter builds the HTTP routes. keys may be nil when no API key store
// is available.
func NewRouter(app *nexus.App, server config.ServerConfig, keys KeyStore) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)

	// ============================================
	// Public Routes (No Auth Required)
	// ============================================
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())

	// API routes (protected if NEXUS_ADMIN_PASSWORD is set)
	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(server.RateLimit, server.RateBurst))
		r.Use(AdminAuth(server.AdminPassword, keys))

		r.Get("/status", StatusHandler(app))
		r.Get("/settings", SettingsHandler(app))
		r.Put("/settings", UpdateSettingsHandler(app))
		r.Post("/refresh", RefreshAllHandler(app))

		// Account management
		r.Get("/accounts", AccountsHandler(app))
		r.Post("/accounts", AddAccountHandler(app))
		r.Post("/accounts/import", ImportAccountsHandler(app))
		r.Get("/accounts/export", ExportAccountsHandler(app))
		r.Delete("/accounts/active", DeactivateHandler(app))
		r.Get("/accounts/{id}", AccountHandler(app))
		r.Patch("/accounts/{id}", UpdateAccountHandler(app))
		r.Delete("/accounts/{id}", DeleteAccountHandler(app))
		r.Post("/accounts/{id}/activate", ActivateAccountHandler(app))
		r.Post("/accounts/{id}/refresh", RefreshAccountHandler(app))
		r.Post("/accounts/{id}/check", CheckAccountHandler(app))

		// Batch operations on ids or the current selection
		r.Post("/batch/remove", BatchHandler(app, "remove"))
		r.Post("/batch/refresh", BatchHandler(app, "refresh"))
		r.Post("/batch/check", BatchHandler(app, "check"))
		r.Post("/batch/move", BatchHandler(app, "move"))
		r.Post("/batch/tags", BatchHandler(app, "tag"))
		r.Post("/batch/untag", BatchHandler(app, "untag"))
		r.Get("/selection", SelectionHandler(app))
		r.Post("/selection", SelectHandler(app))
		r.Delete("/selection", DeselectHandler(app))

		// Groups and tags
		r.Get("/groups", GroupsHandler(app))
		r.Post("/groups", CreateGroupHandler(app))
		r.Put("/groups/{id}", UpdateGroupHandler(app))
		r.Delete("/groups/{id}", DeleteGroupHandler(app))
		r.Get("/tags", TagsHandler(app))
		r.Post("/tags", CreateTagHandler(app))
		r.Put("/tags/{id}", UpdateTagHandler(app))
		r.Delete("/tags/{id}", DeleteTagHandler(app))

		// Machine identity
		r.Get("/identity", IdentityHandler(app))
		r.Post("/identity/change", ChangeIdentityHandler(app))
		r.Post("/identity/restore", RestoreIdentityHandler(app))
		r.Post("/identity/bindings", BindIdentityHandler(app))
		r.Delete("/identity/bindings/{accountID}", UnbindIdentityHandler(app))
		r.Delete("/identity/history", ClearIdentityHistoryHandler(app))

		// Discovery
		r.Get("/discovery/scan", DiscoveryScanHandler(app))
		r.Post("/discovery/import", DiscoveryImportHandler(app))

		// API Key management
		if keys != nil {
			r.Get("/config/apikey", GetAPIKeyHandler(keys))
			r.Post("/config/apikey/regenerate", RegenerateAPIKeyHandler(keys))
		}
	})

	return r
}
