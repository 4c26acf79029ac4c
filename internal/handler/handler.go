// Package handler содержит HTTP-обработчики API сервиса лояльности.
// Обработчики транслируют типизированные ошибки движка в HTTP-статусы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-system/internal/middleware"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/repository"
	"github.com/mmeshcher/loyalty-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, handle, name, password, email string) (int64, error)
	AuthenticateUser(ctx context.Context, handle, password string) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	SetUserRole(ctx context.Context, actorID, targetID int64, role model.Role) error
	VerifyUser(ctx context.Context, actorID, targetID int64) error

	CreateTransaction(ctx context.Context, actorID int64, req service.TransactionRequest) (*model.Transaction, error)
	Transfer(ctx context.Context, actorID int64, recipientHandle string, amount int64, remark string) (*model.Transaction, *model.Transaction, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)

	CreateEvent(ctx context.Context, actorID int64, req service.EventRequest) (*model.Event, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	ListGuests(ctx context.Context, eventID int64) ([]model.User, error)
	EditEvent(ctx context.Context, actorID, eventID int64, upd repository.EventUpdate) (*model.Event, error)
	PublishEvent(ctx context.Context, actorID, eventID int64) error
	DeleteEvent(ctx context.Context, actorID, eventID int64) error
	RsvpSelf(ctx context.Context, actorID, eventID int64) error
	AddGuest(ctx context.Context, actorID, eventID int64, guestHandle string) error
	RemoveGuest(ctx context.Context, actorID, eventID int64, guestHandle string) error
	AddOrganizer(ctx context.Context, actorID, eventID int64, handle string) error
	AwardSingle(ctx context.Context, actorID, eventID int64, recipientHandle string, amount int64) (*model.Transaction, error)
	AwardAll(ctx context.Context, actorID, eventID, amount int64) ([]model.Transaction, error)

	CreatePromotion(ctx context.Context, actorID int64, p repository.PromotionParams) (*model.Promotion, error)
	ListPromotions(ctx context.Context) ([]model.Promotion, error)
}

// Handler реализует HTTP-обработчики API сервиса лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError транслирует типизированную ошибку движка в HTTP-статус.
// Неизвестные ошибки логируются и отдаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var status int

	switch {
	case errors.Is(err, service.ErrInvalidInput) ||
		errors.Is(err, service.ErrInvalidAmount) ||
		errors.Is(err, repository.ErrInvalidEventTime):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrUserNotFound) ||
		errors.Is(err, repository.ErrEventNotFound) ||
		errors.Is(err, repository.ErrPromotionNotFound) ||
		errors.Is(err, repository.ErrNotGuest):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists) ||
		errors.Is(err, repository.ErrAlreadyGuest) ||
		errors.Is(err, repository.ErrAlreadyOrganizer) ||
		errors.Is(err, repository.ErrEventFull) ||
		errors.Is(err, repository.ErrNoGuests) ||
		errors.Is(err, repository.ErrEventHasHistory) ||
		errors.Is(err, repository.ErrPromotionAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrInsufficientBalance) ||
		errors.Is(err, repository.ErrInsufficientEventPoints):
		status = http.StatusPaymentRequired
	case errors.Is(err, repository.ErrEventNotPublished) ||
		errors.Is(err, repository.ErrEventEnded) ||
		errors.Is(err, repository.ErrEventNotHappening) ||
		errors.Is(err, service.ErrPromotionExpired):
		status = http.StatusGone
	default:
		h.logger.Error(op+" error", zap.Error(err))
		status = http.StatusInternalServerError
	}

	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type credentialsRequest struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Handle, req.Name, req.Password, req.Email)
	if err != nil {
		h.writeError(w, err, "register user")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Handle == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Handle, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type transactionResponse struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	Remark       string `json:"remark,omitempty"`
	CreatedBy    int64  `json:"created_by"`
	RelatedEvent *int64 `json:"related_event,omitempty"`
	Counterparty *int64 `json:"counterparty,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:           t.ID,
		UserID:       t.UserID,
		Type:         string(t.Type),
		Amount:       t.Amount,
		Remark:       t.Remark,
		CreatedBy:    t.CreatedBy,
		RelatedEvent: t.RelatedEvent,
		Counterparty: t.Counterparty,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
}

type createTransactionRequest struct {
	User         string  `json:"user,omitempty"`
	Type         string  `json:"type"`
	Amount       int64   `json:"amount"`
	Remark       string  `json:"remark,omitempty"`
	RelatedEvent *int64  `json:"related_event,omitempty"`
	Promotions   []int64 `json:"promotions,omitempty"`
}

// CreateTransaction создаёт транзакцию purchase, redemption или adjustment.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateTransaction(r.Context(), actorID, service.TransactionRequest{
		UserHandle:   req.User,
		Type:         model.TransactionType(req.Type),
		Amount:       req.Amount,
		Remark:       req.Remark,
		RelatedEvent: req.RelatedEvent,
		Promotions:   req.Promotions,
	})
	if err != nil {
		h.writeError(w, err, "create transaction")
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(created))
}

type transferRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Remark string `json:"remark,omitempty"`
}

// Transfer переводит баллы от текущего пользователя другому.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	debit, credit, err := h.service.Transfer(r.Context(), actorID, req.To, req.Amount, req.Remark)
	if err != nil {
		h.writeError(w, err, "transfer")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]transactionResponse{
		"debit":  toTransactionResponse(debit),
		"credit": toTransactionResponse(credit),
	})
}

// GetTransactions возвращает журнал транзакций текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	transactions, err := h.service.GetTransactionsByUser(r.Context(), actorID)
	if err != nil {
		h.writeError(w, err, "get transactions")
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		resp = append(resp, toTransactionResponse(&transactions[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), actorID)
	if err != nil {
		h.writeError(w, err, "get balance")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type updateUserRequest struct {
	Role     *string `json:"role,omitempty"`
	Verified *bool   `json:"verified,omitempty"`
}

// UpdateUser изменяет роль пользователя или помечает его проверенным.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	targetID, ok := parseIDParam(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Role == nil && req.Verified == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Role != nil {
		if err := h.service.SetUserRole(r.Context(), actorID, targetID, model.Role(*req.Role)); err != nil {
			h.writeError(w, err, "set user role")
			return
		}
	}

	if req.Verified != nil && *req.Verified {
		if err := h.service.VerifyUser(r.Context(), actorID, targetID); err != nil {
			h.writeError(w, err, "verify user")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}
