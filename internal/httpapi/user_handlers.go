package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"eegportal.org/internal/audit"
	"eegportal.org/internal/auth"
	"eegportal.org/internal/files"
	"eegportal.org/internal/obs"
	"eegportal.org/internal/users"
)

type addUserRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type renewResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type profileResponse struct {
	Email         string   `json:"email"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	IsAdmin       bool     `json:"isAdmin"`
	AssignedFiles []string `json:"assignedFiles"`
}

type assignRequest struct {
	Email    string   `json:"email"`
	FileIDs  []string `json:"fileIds"`
	FileName string   `json:"fileName"`
	MimeType string   `json:"mimeType"`
	File     string   `json:"file"`
}

type assignResponse struct {
	Message       string   `json:"message"`
	Added         []string `json:"added"`
	AssignedFiles []string `json:"assignedFiles"`
	FileID        string   `json:"fileId,omitempty"`
}

func (a *API) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	creds, err := a.users.Provision(r.Context(), id, req.FirstName, req.LastName)
	if err != nil {
		handleUserError(w, r, err)
		return
	}
	obs.ObserveProvisioned()
	_ = audit.LogEvent(r.Context(), "user.provisioned", map[string]any{
		"email": creds.Email,
	})
	writeJSON(w, http.StatusOK, creds)
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	u, err := a.users.Profile(r.Context(), id)
	if err != nil {
		handleUserError(w, r, err)
		return
	}
	assigned := u.AssignedFiles
	if assigned == nil {
		assigned = []string{}
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		IsAdmin:       u.IsAdmin,
		AssignedFiles: assigned,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	sess, err := a.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			obs.ObserveLogin("rejected")
		} else {
			obs.ObserveLogin("error")
		}
		handleUserError(w, r, err)
		return
	}
	obs.ObserveLogin("ok")
	ctx := auth.ContextWithIdentity(r.Context(), sess.Identity)
	_ = audit.LogEvent(ctx, "auth.login", nil)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		Name:      sess.Name,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (a *API) handleRenewToken(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	sess, err := a.users.Renew(id)
	if err != nil {
		handleUserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renewResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

// handleAssignFiles merges file names into a user's list. An inline payload
// (file + fileName) is stored first and its name joins the merge; the stored
// file is removed again if the merge fails.
func (a *API) handleAssignFiles(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	names := append([]string(nil), req.FileIDs...)

	var stored *files.File
	if req.File != "" || strings.TrimSpace(req.FileName) != "" {
		if req.File == "" {
			writeError(w, r, http.StatusBadRequest, "file is required with fileName")
			return
		}
		target, err := a.users.User(r.Context(), req.Email)
		if err != nil {
			obs.ObserveAssignment("rejected")
			handleUserError(w, r, err)
			return
		}
		if len(users.MergeNew(target.AssignedFiles, []string{strings.TrimSpace(req.FileName)})) == 0 {
			obs.ObserveAssignment("unchanged")
			handleUserError(w, r, users.ErrAlreadyAssigned)
			return
		}
		stored, err = a.files.Put(r.Context(), files.Upload{
			FileName: req.FileName,
			MimeType: req.MimeType,
			Data:     req.File,
		})
		if err != nil {
			obs.ObserveAssignment("error")
			handleFileError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "file.stored", map[string]any{
			"file_id":   stored.ID,
			"file_name": stored.FileName,
			"size":      stored.Size,
		})
		names = append(names, stored.FileName)
	}

	res, err := a.users.Assign(r.Context(), id, req.Email, names)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrAlreadyAssigned):
			obs.ObserveAssignment("unchanged")
		case errors.Is(err, users.ErrInvalidInput), errors.Is(err, users.ErrNotFound):
			obs.ObserveAssignment("rejected")
		default:
			obs.ObserveAssignment("error")
		}
		if stored != nil {
			if rmErr := a.files.Remove(r.Context(), stored); rmErr != nil {
				logError(r, "remove unassigned upload failed", rmErr)
			}
		}
		handleUserError(w, r, err)
		return
	}
	obs.ObserveAssignment("assigned")
	_ = audit.LogEvent(r.Context(), "files.assigned", map[string]any{
		"email": res.Email,
		"added": res.Added,
	})
	resp := assignResponse{
		Message:       "File assigned successfully",
		Added:         res.Added,
		AssignedFiles: res.AssignedFiles,
	}
	if stored != nil {
		resp.FileID = stored.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
