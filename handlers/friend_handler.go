package handlers

import (
	"net/http"

	"benders-server/middleware"
	"benders-server/models"
	"benders-server/services"
)

type FriendHandler struct {
	friends *services.FriendService
}

func NewFriendHandler(friends *services.FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

type UsersResponse struct {
	Users []models.PublicProfile `json:"users"`
	Count int                    `json:"count"`
}

type RequestsResponse struct {
	Requests []models.FriendRequest `json:"requests"`
	Count    int                    `json:"count"`
}

// writeUsers projects other users to their public profiles.
func writeUsers(w http.ResponseWriter, users []models.User) {
	profiles := make([]models.PublicProfile, len(users))
	for i := range users {
		profiles[i] = users[i].Public()
	}
	middleware.WriteJSON(w, http.StatusOK, UsersResponse{Users: profiles, Count: len(profiles)})
}

func (h *FriendHandler) GetFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	friends, err := h.friends.GetFriends(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeUsers(w, friends)
}

func (h *FriendHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.friends.RemoveFriend(r.Context(), userID, pathID(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		ToUserID string `json:"toUserId"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	req, err := h.friends.SendFriendRequest(r.Context(), userID, input.ToUserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, req)
}

func (h *FriendHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	reqs, err := h.friends.GetPendingRequests(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	reqs = orEmpty(reqs)
	middleware.WriteJSON(w, http.StatusOK, RequestsResponse{Requests: reqs, Count: len(reqs)})
}

func (h *FriendHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.friends.AcceptFriendRequest(r.Context(), pathID(r), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FriendHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.friends.RejectFriendRequest(r.Context(), pathID(r), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FriendHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	users, err := h.friends.GetFriendSuggestions(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeUsers(w, users)
}

func (h *FriendHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	report, err := h.friends.ReconcileFriendships(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

func (h *FriendHandler) Blocked(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	users, err := h.friends.GetBlockedUsers(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeUsers(w, users)
}

func (h *FriendHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.friends.BlockUser(r.Context(), userID, pathID(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FriendHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.friends.UnblockUser(r.Context(), userID, pathID(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
