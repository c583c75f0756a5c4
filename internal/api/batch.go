package api

import (
	"net/http"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/nexus"
)

// batchRequest names the accounts to act on. An empty list means the
// current selection.
type batchRequest struct {
	IDs     []string `json:"ids"`
	GroupID string   `json:"group_id"`
	TagIDs  []string `json:"tag_ids"`
}

func (b batchRequest) targets(app *nexus.App) []string {
	if len(b.IDs) > 0 {
		return b.IDs
	}
	return app.Registry.Selected()
}

// BatchHandler runs one multi-account operation and reports success and
// failure counts.
func BatchHandler(app *nexus.App, op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ids := req.targets(app)
		concurrency := app.Settings().RefreshConcurrency

		var res account.BatchResult
		var err error
		switch op {
		case "remove":
			res = app.Registry.RemoveMany(ids)
		case "refresh":
			res = app.Refresher.RefreshMany(r.Context(), ids, concurrency)
		case "check":
			res = app.Refresher.CheckMany(r.Context(), ids, concurrency)
		case "move":
			res, err = app.Registry.MoveToGroup(ids, req.GroupID)
		case "tag":
			res, err = app.Registry.AddTags(ids, req.TagIDs)
		case "untag":
			res = app.Registry.RemoveTags(ids, req.TagIDs)
		default:
			writeError(w, http.StatusNotFound, "unknown batch operation")
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		writeJSON(w, http.StatusOK, res)
	}
}

// SelectionHandler returns the selected account ids.
func SelectionHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ids": app.Registry.Selected()})
	}
}

// SelectHandler adds ids to the selection.
func SelectHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		n := app.Registry.Select(req.IDs...)
		writeJSON(w, http.StatusOK, map[string]interface{}{"selected": n, "ids": app.Registry.Selected()})
	}
}

// DeselectHandler removes ids from the selection, or clears it when none
// are given.
func DeselectHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.IDs) == 0 {
			app.Registry.ClearSelection()
		} else {
			app.Registry.Deselect(req.IDs...)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ids": app.Registry.Selected()})
	}
}
