package handlers

import (
	"context"
	"net/http"
	"strconv"

	"benders-server/middleware"
	"benders-server/models"
	"benders-server/services"
	"benders-server/utils/errors"
)

const defaultNearbyRadiusKm = 5.0

type BenderHandler struct {
	benders *services.BenderService
}

func NewBenderHandler(benders *services.BenderService) *BenderHandler {
	return &BenderHandler{benders: benders}
}

type BendersResponse struct {
	Benders []models.Bender `json:"benders"`
	Count   int             `json:"count"`
}

type NearbyBendersResponse struct {
	Benders []models.NearbyBender `json:"benders"`
	Count   int                   `json:"count"`
	Lat     float64               `json:"lat"`
	Lon     float64               `json:"lon"`
	Radius  float64               `json:"radiusKm"`
}

type BeerCountResponse struct {
	BenderID  string `json:"benderId"`
	UserID    string `json:"userId"`
	BeerCount int    `json:"beerCount"`
}

func (h *BenderHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		Title          string          `json:"title"`
		Location       models.Location `json:"location"`
		InvitedUserIDs []string        `json:"invitedUserIds"`
		OpenInvite     bool            `json:"openInvite"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	var (
		b   *models.Bender
		err error
	)
	if input.OpenInvite {
		b, err = h.benders.CreateOpenInvite(r.Context(), userID, input.Title, input.Location)
	} else {
		b, err = h.benders.Create(r.Context(), userID, input.Title, input.Location, input.InvitedUserIDs)
	}
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, b)
}

// ListActive returns the active benders the caller is invited to.
func (h *BenderHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	benders, err := h.benders.ListActiveForUser(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	benders = orEmpty(benders)
	middleware.WriteJSON(w, http.StatusOK, BendersResponse{Benders: benders, Count: len(benders)})
}

func (h *BenderHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.benders.Get(r.Context(), pathID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

func (h *BenderHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput.WithDetails("lat is required"))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput.WithDetails("lon is required"))
		return
	}
	radius := defaultNearbyRadiusKm
	if raw := q.Get("radius"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			middleware.WriteError(w, errors.ErrInvalidInput.WithDetails("radius must be a number"))
			return
		}
	}

	benders, err := h.benders.Nearby(r.Context(), lat, lon, radius)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, NearbyBendersResponse{
		Benders: benders,
		Count:   len(benders),
		Lat:     lat,
		Lon:     lon,
		Radius:  radius,
	})
}

func (h *BenderHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.participantAction(w, r, h.benders.Join)
}

func (h *BenderHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.participantAction(w, r, h.benders.Leave)
}

func (h *BenderHandler) End(w http.ResponseWriter, r *http.Request) {
	h.participantAction(w, r, h.benders.End)
}

func (h *BenderHandler) participantAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, benderID, userID string) error) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := action(r.Context(), pathID(r), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BenderHandler) SetBeerCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		BeerCount *int `json:"beerCount"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.BeerCount == nil {
		middleware.WriteError(w, errors.ErrInvalidInput.WithDetails("beerCount is required"))
		return
	}
	n, err := h.benders.SetBeerCount(r.Context(), pathID(r), userID, *input.BeerCount)
	h.writeBeerCount(w, r, userID, n, err)
}

func (h *BenderHandler) IncrementBeerCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.benders.IncrementBeerCount(r.Context(), pathID(r), userID)
	h.writeBeerCount(w, r, userID, n, err)
}

func (h *BenderHandler) DecrementBeerCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.benders.DecrementBeerCount(r.Context(), pathID(r), userID)
	h.writeBeerCount(w, r, userID, n, err)
}

func (h *BenderHandler) writeBeerCount(w http.ResponseWriter, r *http.Request, userID string, n int, err error) {
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, BeerCountResponse{BenderID: pathID(r), UserID: userID, BeerCount: n})
}

func (h *BenderHandler) SetLocationStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		IsAtLocation bool `json:"isAtLocation"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	if err := h.benders.SetLocationStatus(r.Context(), pathID(r), userID, input.IsAtLocation); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BenderHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var location models.Location
	if !decodeJSON(w, r, &location) {
		return
	}
	if err := h.benders.UpdateLocation(r.Context(), pathID(r), userID, location); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
