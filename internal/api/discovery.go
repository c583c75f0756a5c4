package api

import (
	"net/http"
	"strings"

	"github.com/pysugar/account-nexus/internal/discovery"
	"github.com/pysugar/account-nexus/internal/nexus"
)

// DiscoveryScanHandler scans for credentials and returns masked results
func DiscoveryScanHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := app.Discovery.Scan()

		type found struct {
			discovery.Credential
			Known bool `json:"known"`
		}
		creds := make([]found, len(result.Credentials))
		for i, cred := range result.Credentials {
			_, known := app.Registry.FindByEmail(cred.Input.Email)
			creds[i] = found{Credential: discovery.MaskCredential(cred), Known: known && cred.Input.Email != ""}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"credentials": creds,
			"errors":      result.Errors,
			"count":       len(result.Credentials),
		})
	}
}

// DiscoveryImportRequest represents a request to import a discovered credential
type DiscoveryImportRequest struct {
	Source string `json:"source"`
	Index  int    `json:"index"` // Index among the source's results
	Email  string `json:"email"` // User-provided or confirmed email
}

// DiscoveryImportHandler imports a discovered credential
func DiscoveryImportHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DiscoveryImportRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// Re-scan to get the actual tokens (not masked)
		result := app.Discovery.Scan()

		var cred *discovery.Credential
		idx := 0
		for i := range result.Credentials {
			if result.Credentials[i].Source != req.Source {
				continue
			}
			if idx == req.Index {
				cred = &result.Credentials[i]
				break
			}
			idx++
		}
		if cred == nil {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}

		in := cred.Input
		if email := strings.TrimSpace(req.Email); email != "" {
			in.Email = email
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
