package documents

import (
	"docsync-server/core"
	"docsync-server/middleware"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// maxBodySize matches the socket.io transport's buffer limit.
const maxBodySize = 5000000

type DocumentResponse struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
}

// HandleGet loads, creating if needed, the snapshot of the document in the URL.
func HandleGet(documentStore core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithFields(logrus.Fields{
			"document_id": id,
			"request_id":  middleware.RequestID(r.Context()),
		})
		if err := core.ValidateDocumentID(id); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid document id"})
			return
		}

		doc, err := documentStore.LoadOrCreate(r.Context(), id)
		if err != nil {
			log.WithError(err).Error("Failed to load document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load document"})
			return
		}

		log.WithField("data_length", len(doc.Content)).Info("Retrieved document")
		render.JSON(w, r, DocumentResponse{ID: id, Content: core.ContentJSON(doc.Content)})
	}
}

// HandlePut overwrites the snapshot of the document in the URL with the JSON
// request body.
func HandlePut(documentStore core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithFields(logrus.Fields{
			"document_id": id,
			"request_id":  middleware.RequestID(r.Context()),
		})
		if err := core.ValidateDocumentID(id); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid document id"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, map[string]string{"error": "Document too large"})
				return
			}
			log.WithError(err).Error("Failed to read request body")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to read request body"})
			return
		}
		defer r.Body.Close()

		if !json.Valid(body) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Document content must be JSON"})
			return
		}

		if err := documentStore.Save(r.Context(), id, body); err != nil {
			log.WithError(err).Error("Failed to save document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save document"})
			return
		}

		log.WithField("data_length", len(body)).Info("Saved document")
		w.WriteHeader(http.StatusNoContent)
	}
}
