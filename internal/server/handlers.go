package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/paper-cli/internal/index"
	"github.com/sells-group/paper-cli/internal/model"
)

type documentResponse struct {
	model.Document
	Stages    map[model.Stage]model.ArtifactStatus `json:"stages"`
	Artifacts []model.Artifact                     `json:"artifacts,omitempty"`
}

type textResponse struct {
	ID      string `json:"id"`
	Section string `json:"section,omitempty"`
	Text    string `json:"text"`
}

type verifyRequest struct {
	Paper string `json:"paper" validate:"required"`
	Claim string `json:"claim" validate:"required"`
}

type searchResponse struct {
	Query   string      `json:"query"`
	Results []index.Hit `json:"results"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listDocuments(w http.ResponseWriter, r *http.Request) {
	entries, err := a.lib.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]documentResponse, len(entries))
	for i, e := range entries {
		out[i] = documentResponse{Document: e.Document, Stages: e.Stages}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getDocument(w http.ResponseWriter, r *http.Request) {
	entry, arts, err := a.lib.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: entry.Document, Stages: entry.Stages, Artifacts: arts})
}

func (a *api) getText(w http.ResponseWriter, r *http.Request) {
	section := r.URL.Query().Get("section")
	doc, text, err := a.lib.Read(r.Context(), chi.URLParam(r, "id"), section)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{ID: doc.ID, Section: section, Text: text})
}

func (a *api) getSummary(w http.ResponseWriter, r *http.Request) {
	doc, b, err := a.lib.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(b) //nolint:errcheck
		return
	}
	writeJSON(w, http.StatusOK, textResponse{ID: doc.ID, Text: string(b)})
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	top, err := queryInt(r, "top", index.DefaultTopK)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	hits, err := a.lib.Find(r.Context(), q, top)
	if err != nil {
		writeError(w, err)
		return
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Results: hits})
}

func (a *api) verify(w http.ResponseWriter, r *http.Request) {
	if a.verifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "verification is not configured"})
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "paper and claim are required"})
		return
	}
	res, err := a.verifier.VerifyDocument(r.Context(), a.lib, req.Paper, req.Claim)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
