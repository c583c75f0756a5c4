package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/nexus"
)

type labelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Order *int   `json:"order,omitempty"`
}

// GroupsHandler lists groups by order.
func GroupsHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"groups": app.Registry.Groups()})
	}
}

// CreateGroupHandler appends a group.
func CreateGroupHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req labelRequest
		if err := decode(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		g := app.Registry.CreateGroup(req.Name, req.Color)
		app.RequestSave()
		writeJSON(w, http.StatusCreated, g)
	}
}

// UpdateGroupHandler renames, recolors or reorders a group.
func UpdateGroupHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req labelRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id := chi.URLParam(r, "id")
		var cur account.Group
		for _, g := range app.Registry.Groups() {
			if g.ID == id {
				cur = g
			}
		}
		if cur.ID == "" {
			writeErr(w, account.ErrGroupNotFound)
			return
		}
		if req.Name != "" {
			cur.Name = req.Name
		}
		if req.Color != "" {
			cur.Color = req.Color
		}
		if req.Order != nil {
			cur.Order = *req.Order
		}
		if err := app.Registry.UpdateGroup(cur); err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		writeJSON(w, http.StatusOK, cur)
	}
}

// DeleteGroupHandler deletes a group. Member accounts become ungrouped.
func DeleteGroupHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.Registry.DeleteGroup(chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		w.WriteHeader(http.StatusNoContent)
	}
}

// TagsHandler lists tags in creation order.
func TagsHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tags": app.Registry.Tags()})
	}
}

// CreateTagHandler adds a tag.
func CreateTagHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req labelRequest
		if err := decode(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		t := app.Registry.CreateTag(req.Name, req.Color)
		app.RequestSave()
		writeJSON(w, http.StatusCreated, t)
	}
}

// UpdateTagHandler renames or recolors a tag.
func UpdateTagHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req labelRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id := chi.URLParam(r, "id")
		var cur account.Tag
		for _, t := range app.Registry.Tags() {
			if t.ID == id {
				cur = t
			}
		}
		if cur.ID == "" {
			writeErr(w, account.ErrTagNotFound)
			return
		}
		if req.Name != "" {
			cur.Name = req.Name
		}
		if req.Color != "" {
			cur.Color = req.Color
		}
		if err := app.Registry.UpdateTag(cur); err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		writeJSON(w, http.StatusOK, cur)
	}
}

// DeleteTagHandler deletes a tag and strips it from every account.
func DeleteTagHandler(app *nexus.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.Registry.DeleteTag(chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		app.RequestSave()
		w.WriteHeader(http.StatusNoContent)
	}
}
