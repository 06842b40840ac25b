package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"benders-server/middleware"
	"benders-server/utils/errors"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into v. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput.WithDetails("malformed JSON body"))
		return false
	}
	return true
}

// currentUser returns the authenticated user id or writes 401.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		middleware.WriteError(w, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
