package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"inkpost.org/internal/auth"
)

const (
	codeInternal   = "INTERNAL_SERVER_ERROR"
	codeBadRequest = string(auth.KindValidation)
	genericMessage = "something went wrong, please try again later"
)

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads exactly one JSON value of at most a.maxBody bytes into dst.
func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, a.maxBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// statusForKind maps an error kind onto an HTTP status.
func statusForKind(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindUsernameTaken, auth.KindEmailTaken:
		return http.StatusConflict
	case auth.KindUserNotFound:
		return http.StatusNotFound
	case auth.KindInvalidCredentials,
		auth.KindTokenMissing,
		auth.KindTokenInvalid,
		auth.KindTokenExpired,
		auth.KindAccessTokenExpired,
		auth.KindRefreshTokenMissing,
		auth.KindRefreshTokenMismatch,
		auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindUserInactive, auth.KindInvalidRole, auth.KindPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeAuthError renders err. Kinded errors carry a client-safe message;
// anything else is logged and hidden outside development.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg := genericMessage
		if a.dev {
			msg = err.Error()
		}
		writeError(w, r, http.StatusInternalServerError, msg, codeInternal)
		return
	}

	status := statusForKind(authErr.Kind)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("code", string(authErr.Kind)),
			zap.Error(err))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="inkpost"`)
	}
	writeError(w, r, status, authErr.Message, string(authErr.Kind))
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg, errCode string) {
	payload := map[string]any{
		"error": msg,
	}
	if errCode != "" {
		payload["code"] = errCode
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
}
