package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/nexus"
)

// AccountsHandler lists every account in registry order.
func AccountsHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts := app.Registry.List()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"accounts":  viewsOf(accounts),
			"active_id": app.Registry.ActiveID(),
			"count":     len(accounts),
		})
	}
}

// AccountHandler returns one account.
func AccountHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, ok := app.Registry.Get(chi.URLParam(r, "id"))
		if !ok {
			writeErr(w, account.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(acc))
	}
}

// AddAccountHandler adds a single account.
func AddAccountHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in account.ImportInput
		if err := decode(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		acc, err := app.Registry.Add(in)
		if err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		writeJSON(w, http.StatusCreated, viewOf(acc))
	}
}

// ImportAccountsHandler adds a batch of accounts and reports duplicates and
// failures per entry.
func ImportAccountsHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var inputs []account.ImportInput
		if err := decode(r, &inputs); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rep := app.Registry.Import(inputs)
		if len(rep.Imported) > 0 {
			app.RequestSave()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"imported":   viewsOf(rep.Imported),
			"duplicates": rep.Duplicates,
			"failed":     rep.Failed,
		})
	}
}

// ExportAccountsHandler returns every account, secrets included, in the
// import format.
func ExportAccountsHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts := app.Registry.List()
		out := make([]account.ImportInput, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, account.ExportInput(a))
		}
		w.Header().Set("Content-Disposition", `attachment; filename="accounts.json"`)
		writeJSON(w, http.StatusOK, out)
	}
}

// UpdateAccountHandler edits nickname, group and tags.
func UpdateAccountHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p account.ProfileUpdate
		if err := decode(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		acc, err := app.Registry.UpdateProfile(chi.URLParam(r, "id"), p)
		if err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		writeJSON(w, http.StatusOK, viewOf(acc))
	}
}

// DeleteAccountHandler removes an account.
func DeleteAccountHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.Registry.Remove(chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		w.WriteHeader(http.StatusNoContent)
	}
}

// ActivateAccountHandler makes the account active, applying its credentials
// and running the configured switch side effects.
func ActivateAccountHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := app.Switcher.SetActive(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, switchResponse(res))
	}
}

// DeactivateHandler clears the active account.
func DeactivateHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.Switcher.SetActive(r.Context(), ""); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func switchResponse(res *account.SwitchResult) map[string]interface{} {
	out := map[string]interface{}{"status": "ok"}
	if res.Current != nil {
		out["active"] = viewOf(*res.Current)
	}
	if res.Previous != nil {
		out["previous_id"] = res.Previous.ID
	}
	if res.IdentityErr != nil {
		out["identity_error"] = res.IdentityErr.Error()
	}
	if res.LaunchErr != nil {
		out["launch_error"] = res.LaunchErr.Error()
	}
	return out
}

// RefreshAccountHandler refreshes one account's token now.
func RefreshAccountHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := app.Refresher.Refresh(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(acc))
	}
}

// CheckAccountHandler probes one account without the cache. Success clears
// a recorded ban.
func CheckAccountHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := app.Refresher.Check(r.Context(), chi.URLParam(r, "id"))
		app.RequestSave()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(acc))
	}
}

// RefreshAllHandler runs one refresh tick immediately.
func RefreshAllHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := app.Scheduler.RunNow(r.Context())
		app.RequestSave()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"due":       rep.Due,
			"refreshed": rep.Refreshed,
			"probed":    rep.Probed,
			"skipped":   rep.Skipped,
		})
	}
}
