package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/nexus"
)

type identityRequest struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
}

// IdentityHandler returns the machine identity state.
func IdentityHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Identity.State())
	}
}

// ChangeIdentityHandler applies the given identity, or a fresh one.
func ChangeIdentityHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identityRequest
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id, err := app.Identity.Change(r.Context(), req.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"current_id": id})
	}
}

// RestoreIdentityHandler writes the backed-up original identity back.
func RestoreIdentityHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := app.Identity.Restore(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"current_id": id})
	}
}

// BindIdentityHandler binds an identity to an account without applying it.
func BindIdentityHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identityRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		acc, ok := app.Registry.Get(req.AccountID)
		if !ok {
			writeErr(w, account.ErrNotFound)
			return
		}
		id, err := app.Identity.Bind(acc.ID, acc.Email, req.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"account_id": acc.ID, "identity": id})
	}
}

// UnbindIdentityHandler drops an account's binding.
func UnbindIdentityHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !app.Identity.Unbind(chi.URLParam(r, "accountID")) {
			writeError(w, http.StatusNotFound, "no binding for account")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ClearIdentityHistoryHandler truncates the history log.
func ClearIdentityHistoryHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app.Identity.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	}
}
