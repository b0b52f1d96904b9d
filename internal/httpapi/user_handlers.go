package httpapi

import (
	"net/http"
	"strings"

	"inkpost.org/internal/auth"
)

const usersPrefix = "/api/v1/users/"

type updateAccountRequest struct {
	FullName *string `json:"fullName"`
	Email    *string `json:"email"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	users, err := a.svc.ListUsers(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Users fetched successfully", users)
}

// handleUser serves /api/v1/users/{id}.
func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, usersPrefix)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "route not found", "NOT_FOUND")
		return
	}

	var (
		perm string
		next func(http.ResponseWriter, *http.Request, string)
	)
	switch r.Method {
	case http.MethodGet:
		perm, next = auth.PermUserRead, a.getUser
	case http.MethodDelete:
		perm, next = auth.PermUserDelete, a.deleteUser
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		return
	}
	a.requirePermission(perm, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.validID(id) {
			writeError(w, r, http.StatusBadRequest, "invalid user id", codeBadRequest)
			return
		}
		next(w, r, id)
	})).ServeHTTP(w, r)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, id string) {
	user, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User fetched successfully", user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.svc.DeleteUser(r.Context(), id); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.deleted", map[string]any{"target_user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.writeAuthError(w, r, auth.ErrUnauthorized)
		return
	}
	var req updateAccountRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), codeBadRequest)
		return
	}

	user, err := a.svc.UpdateAccount(r.Context(), principal.ID, auth.AccountUpdate{
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.account.updated", map[string]any{
		"full_name_changed": req.FullName != nil,
		"email_changed":     req.Email != nil,
	})
	writeSuccess(w, http.StatusOK, "Account details updated successfully", user)
}
