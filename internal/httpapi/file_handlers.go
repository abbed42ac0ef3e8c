package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"eegportal.org/internal/auth"
	"eegportal.org/internal/files"
)

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "fileName")
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "fileName is required")
		return
	}
	if a.downloadRequireAuth {
		id, _ := auth.IdentityFromContext(r.Context())
		if !id.IsAdmin {
			u, err := a.users.Profile(r.Context(), id)
			if err != nil {
				handleUserError(w, r, err)
				return
			}
			if !u.HasFile(name) {
				// Unassigned files are indistinguishable from missing ones.
				handleFileError(w, r, files.ErrNotFound)
				return
			}
		}
	}

	f, body, err := a.files.Get(r.Context(), name)
	if err != nil {
		handleFileError(w, r, err)
		return
	}
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", f.MimeType)
	h.Set("Content-Disposition", contentDisposition(f.FileName))
	if f.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(f.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logError(r, "download stream interrupted", err)
	}
}

var dispositionEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")

func contentDisposition(name string) string {
	return `attachment; filename="` + dispositionEscaper.Replace(name) + `"`
}
