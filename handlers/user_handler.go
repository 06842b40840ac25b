package handlers

import (
	"net/http"

	"benders-server/middleware"
	"benders-server/services"
	"benders-server/utils/errors"
)

type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		DisplayName string `json:"displayName"`
		Bio         string `json:"bio"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), userID, input.DisplayName, input.Bio)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, user)
}

func (h *UserHandler) SetPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	if err := h.users.SetPushToken(r.Context(), userID, input.Token); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search looks a user up by exact username and returns their public profile.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		middleware.WriteError(w, errors.ErrInvalidInput.WithDetails("username is required"))
		return
	}
	user, err := h.users.SearchByUsername(r.Context(), username)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if user == nil {
		middleware.WriteError(w, errors.ErrNotFound.WithDetails("no user named %q", username))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, user.Public())
}
