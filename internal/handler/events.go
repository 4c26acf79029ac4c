package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/loyalty-system/internal/middleware"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/repository"
	"github.com/mmeshcher/loyalty-system/internal/service"
)

func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type eventResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Location      string `json:"location,omitempty"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
	Capacity      *int64 `json:"capacity,omitempty"`
	PointsAwarded int64  `json:"points_awarded"`
	PointsRemain  int64  `json:"points_remain"`
	Published     bool   `json:"published"`
}

func toEventResponse(e *model.Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		Name:          e.Name,
		Description:   e.Description,
		Location:      e.Location,
		StartsAt:      e.StartsAt.Format(time.RFC3339),
		EndsAt:        e.EndsAt.Format(time.RFC3339),
		Capacity:      e.Capacity,
		PointsAwarded: e.PointsAwarded,
		PointsRemain:  e.PointsRemain,
		Published:     e.Published,
	}
}

type createEventRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    *int64    `json:"capacity,omitempty"`
	Points      int64     `json:"points"`
}

// CreateEvent создаёт мероприятие.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := h.service.CreateEvent(r.Context(), actorID, service.EventRequest{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
		Points:      req.Points,
	})
	if err != nil {
		h.writeError(w, err, "create event")
		return
	}

	writeJSON(w, http.StatusCreated, toEventResponse(event))
}

// GetEvent возвращает мероприятие с его гостями.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := h.service.GetEvent(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err, "get event")
		return
	}

	guests, err := h.service.ListGuests(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err, "list guests")
		return
	}

	guestHandles := make([]string, 0, len(guests))
	for _, g := range guests {
		guestHandles = append(guestHandles, g.Handle)
	}

	resp := struct {
		eventResponse
		Guests []string `json:"guests"`
	}{
		eventResponse: toEventResponse(event),
		Guests:        guestHandles,
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListEvents возвращает все мероприятия.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListEvents(r.Context())
	if err != nil {
		h.writeError(w, err, "list events")
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, toEventResponse(&events[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type updateEventRequest struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Capacity    *int64     `json:"capacity,omitempty"`
}

// EditEvent изменяет описательные поля мероприятия.
func (h *Handler) EditEvent(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := h.service.EditEvent(r.Context(), actorID, eventID, repository.EventUpdate{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
	})
	if err != nil {
		h.writeError(w, err, "edit event")
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// PublishEvent публикует мероприятие.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.PublishEvent(r.Context(), actorID, eventID); err != nil {
		h.writeError(w, err, "publish event")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteEvent удаляет мероприятие без журнальной истории.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteEvent(r.Context(), actorID, eventID); err != nil {
		h.writeError(w, err, "delete event")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Rsvp записывает текущего пользователя гостем мероприятия.
func (h *Handler) Rsvp(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RsvpSelf(r.Context(), actorID, eventID); err != nil {
		h.writeError(w, err, "rsvp")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type guestRequest struct {
	User string `json:"user"`
}

// AddGuest записывает указанного пользователя гостем мероприятия.
func (h *Handler) AddGuest(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req guestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddGuest(r.Context(), actorID, eventID, req.User); err != nil {
		h.writeError(w, err, "add guest")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// RemoveGuest убирает гостя из списка мероприятия. Гость, как и в остальных
// операциях с гостями, адресуется по handle.
func (h *Handler) RemoveGuest(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	guestHandle := chi.URLParam(r, "handle")
	if guestHandle == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveGuest(r.Context(), actorID, eventID, guestHandle); err != nil {
		h.writeError(w, err, "remove guest")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddOrganizer назначает пользователя организатором мероприятия.
func (h *Handler) AddOrganizer(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req guestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddOrganizer(r.Context(), actorID, eventID, req.User); err != nil {
		h.writeError(w, err, "add organizer")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type awardRequest struct {
	User   string `json:"user,omitempty"`
	Amount int64  `json:"amount"`
}

// Award начисляет баллы из пула мероприятия: одному гостю, если указан
// его handle в поле user, иначе всем текущим гостям.
func (h *Handler) Award(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, ok := parseIDParam(r, "eventID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req awardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.User != "" {
		created, err := h.service.AwardSingle(r.Context(), actorID, eventID, req.User, req.Amount)
		if err != nil {
			h.writeError(w, err, "award single")
			return
		}
		writeJSON(w, http.StatusCreated, []transactionResponse{toTransactionResponse(created)})
		return
	}

	created, err := h.service.AwardAll(r.Context(), actorID, eventID, req.Amount)
	if err != nil {
		h.writeError(w, err, "award all")
		return
	}

	resp := make([]transactionResponse, 0, len(created))
	for i := range created {
		resp = append(resp, toTransactionResponse(&created[i]))
	}
	writeJSON(w, http.StatusCreated, resp)
}

type promotionResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	Points      int64  `json:"points"`
}

func toPromotionResponse(p *model.Promotion) promotionResponse {
	return promotionResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Type:        string(p.Type),
		StartsAt:    p.StartsAt.Format(time.RFC3339),
		EndsAt:      p.EndsAt.Format(time.RFC3339),
		Points:      p.Points,
	}
}

type createPromotionRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Points      int64     `json:"points"`
}

// CreatePromotion создаёт акцию.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createPromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	promo, err := h.service.CreatePromotion(r.Context(), actorID, repository.PromotionParams{
		Name:        req.Name,
		Description: req.Description,
		Type:        model.PromotionType(req.Type),
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Points:      req.Points,
	})
	if err != nil {
		h.writeError(w, err, "create promotion")
		return
	}

	writeJSON(w, http.StatusCreated, toPromotionResponse(promo))
}

// ListPromotions возвращает все акции.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.service.ListPromotions(r.Context())
	if err != nil {
		h.writeError(w, err, "list promotions")
		return
	}

	resp := make([]promotionResponse, 0, len(promos))
	for i := range promos {
		resp = append(resp, toPromotionResponse(&promos[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}
