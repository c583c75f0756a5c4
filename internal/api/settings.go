package api

import (
	"net/http"

	"github.com/pysugar/account-nexus/internal/nexus"
	"github.com/pysugar/account-nexus/internal/version"
)

// StatusHandler reports loop state and counts.
func StatusHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version":             version.Version,
			"accounts":            app.Registry.Len(),
			"active_id":           app.Registry.ActiveID(),
			"auto_refresh_active": app.Scheduler.IsRunning(),
			"auto_switch_active":  app.AutoSwitch.IsRunning(),
			"settings":            app.Settings(),
		})
	}
}

// SettingsHandler returns the runtime settings.
func SettingsHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Settings())
	}
}

// UpdateSettingsHandler merges the body into the current settings and
// applies the result. Loops restart with the new values.
func UpdateSettingsHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := app.Settings()
		if err := decode(r, &s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := app.UpdateSettings(s); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, app.Settings())
	}
}

// GetAPIKeyHandler returns the admin API key.
func GetAPIKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keys.APIKey()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
	}
}

// RegenerateAPIKeyHandler replaces the admin API key.
func RegenerateAPIKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keys.RegenerateAPIKey()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
	}
}
