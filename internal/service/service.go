// Package service реализует бизнес-логику сервиса лояльности: фасад,
// последовательно выполняющий проверку входных данных, проверку прав
// и атомарную операцию репозитория.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/loyalty-system/internal/auth"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/repository"
	"github.com/mmeshcher/loyalty-system/internal/validation"
)

var (
	// ErrUnauthorized возвращается, когда актору не хватает прав на операцию.
	ErrUnauthorized = errors.New("operation not allowed")
	// ErrInvalidAmount возвращается для нулевых, отрицательных или
	// неподходящих по знаку сумм.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidInput возвращается для прочих некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPromotionExpired возвращается для явно запрошенной акции вне периода действия.
	ErrPromotionExpired = errors.New("promotion expired")
	// ErrInvalidCredentials возвращается при неверном пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, handle, name, email string, passwordHash []byte) (int64, error)
	GetUserByHandle(ctx context.Context, handle string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdateUserRole(ctx context.Context, id int64, role model.Role) error
	VerifyUser(ctx context.Context, id int64) error

	CreateTransaction(ctx context.Context, p repository.TransactionParams) (*model.Transaction, error)
	CreateTransfer(ctx context.Context, senderID, recipientID, amount int64, remark string, createdBy int64) (*model.Transaction, *model.Transaction, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)

	CreateEvent(ctx context.Context, p repository.EventParams) (*model.Event, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	UpdateEvent(ctx context.Context, id int64, upd repository.EventUpdate) (*model.Event, error)
	PublishEvent(ctx context.Context, id int64) error
	DeleteEvent(ctx context.Context, id int64) error
	AddGuest(ctx context.Context, eventID, userID int64, rsvp bool, now time.Time) error
	RemoveGuest(ctx context.Context, eventID, userID int64) error
	AddOrganizer(ctx context.Context, eventID, userID int64) error
	IsOrganizer(ctx context.Context, eventID, userID int64) (bool, error)
	ListGuests(ctx context.Context, eventID int64) ([]model.User, error)
	AwardSingle(ctx context.Context, eventID, recipientID, amount, createdBy int64, now time.Time) (*model.Transaction, error)
	AwardAll(ctx context.Context, eventID, amount, createdBy int64, now time.Time) ([]model.Transaction, error)

	CreatePromotion(ctx context.Context, p repository.PromotionParams) (*model.Promotion, error)
	GetPromotion(ctx context.Context, id int64) (*model.Promotion, error)
	ListPromotions(ctx context.Context) ([]model.Promotion, error)
	GetActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error)
	HasUsedPromotion(ctx context.Context, promotionID, userID int64) (bool, error)
}

// Service содержит бизнес-логику сервиса лояльности.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с ролью regular.
func (s *Service) RegisterUser(ctx context.Context, handle, name, password, email string) (int64, error) {
	if !validation.IsValidHandle(handle) {
		return 0, fmt.Errorf("%w: handle", ErrInvalidInput)
	}
	if !validation.IsValidEmail(email) {
		return 0, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if password == "" {
		return 0, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	hashed := hashPassword(handle, password)
	return s.repo.CreateUser(ctx, handle, name, email, hashed)
}

// AuthenticateUser проверяет handle и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, handle, password string) (int64, error) {
	u, err := s.repo.GetUserByHandle(ctx, handle)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(handle, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(handle, password string) []byte {
	sum := sha256.Sum256([]byte(handle + ":" + password))
	return sum[:]
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// SetUserRole изменяет глобальную роль пользователя. Суперпользователь
// назначает любую роль; менеджер — только regular и cashier.
func (s *Service) SetUserRole(ctx context.Context, actorID, targetID int64, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	actor, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return err
	}

	switch actor.Role {
	case model.RoleSuperuser:
	case model.RoleManager:
		if role != model.RoleRegular && role != model.RoleCashier {
			return ErrUnauthorized
		}
	default:
		return ErrUnauthorized
	}

	return s.repo.UpdateUserRole(ctx, targetID, role)
}

// VerifyUser помечает пользователя проверенным. Доступно менеджерам и выше.
func (s *Service) VerifyUser(ctx context.Context, actorID, targetID int64) error {
	actor, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != model.RoleManager && actor.Role != model.RoleSuperuser {
		return ErrUnauthorized
	}
	return s.repo.VerifyUser(ctx, targetID)
}

// GetBalance возвращает текущий баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetTransactionsByUser возвращает журнал транзакций пользователя.
func (s *Service) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}

// TransactionRequest описывает запрос на создание транзакции.
// Amount — положительная величина для purchase и redemption и знаковое
// ненулевое значение для adjustment.
type TransactionRequest struct {
	UserHandle   string
	Type         model.TransactionType
	Amount       int64
	Remark       string
	RelatedEvent *int64
	Promotions   []int64
}

// CreateTransaction создаёт транзакцию от имени актора. Покупку может
// провести кассир, корректировку — менеджер, списание пользователь
// выполняет сам. Типы transfer и event этим путём не создаются.
func (s *Service) CreateTransaction(ctx context.Context, actorID int64, req TransactionRequest) (*model.Transaction, error) {
	actor, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	switch req.Type {
	case model.TransactionPurchase:
		if !auth.Allowed(actor.Role, false, auth.ActionCreatePurchase) {
			return nil, ErrUnauthorized
		}
		if req.Amount <= 0 {
			return nil, ErrInvalidAmount
		}

		user, err := s.repo.GetUserByHandle(ctx, req.UserHandle)
		if err != nil {
			return nil, err
		}

		promos, err := s.ResolvePromotions(ctx, user.ID, req.Promotions, now)
		if err != nil {
			return nil, err
		}

		return s.repo.CreateTransaction(ctx, repository.TransactionParams{
			UserID:     user.ID,
			Type:       model.TransactionPurchase,
			Amount:     req.Amount,
			Remark:     req.Remark,
			CreatedBy:  actorID,
			Promotions: promos,
		})

	case model.TransactionRedemption:
		if !auth.Allowed(actor.Role, false, auth.ActionCreateRedemption) {
			return nil, ErrUnauthorized
		}
		if req.Amount <= 0 {
			return nil, ErrInvalidAmount
		}

		return s.repo.CreateTransaction(ctx, repository.TransactionParams{
			UserID:    actorID,
			Type:      model.TransactionRedemption,
			Amount:    -req.Amount,
			Remark:    req.Remark,
			CreatedBy: actorID,
		})

	case model.TransactionAdjustment:
		if !auth.Allowed(actor.Role, false, auth.ActionCreateAdjustment) {
			return nil, ErrUnauthorized
		}
		if req.Amount == 0 {
			return nil, ErrInvalidAmount
		}

		user, err := s.repo.GetUserByHandle(ctx, req.UserHandle)
		if err != nil {
			return nil, err
		}

		return s.repo.CreateTransaction(ctx, repository.TransactionParams{
			UserID:       user.ID,
			Type:         model.TransactionAdjustment,
			Amount:       req.Amount,
			Remark:       req.Remark,
			CreatedBy:    actorID,
			RelatedEvent: req.RelatedEvent,
		})
	}

	return nil, fmt.Errorf("%w: transaction type %q", ErrInvalidInput, req.Type)
}

// Transfer переводит баллы от актора указанному пользователю.
// Обе части перевода фиксируются атомарно или не фиксируются вовсе.
func (s *Service) Transfer(ctx context.Context, actorID int64, recipientHandle string, amount int64, remark string) (*model.Transaction, *model.Transaction, error) {
	actor, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	if !auth.Allowed(actor.Role, false, auth.ActionCreateTransfer) {
		return nil, nil, ErrUnauthorized
	}
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	recipient, err := s.repo.GetUserByHandle(ctx, recipientHandle)
	if err != nil {
		return nil, nil, err
	}
	if recipient.ID == actorID {
		return nil, nil, fmt.Errorf("%w: cannot transfer to self", ErrInvalidInput)
	}

	return s.repo.CreateTransfer(ctx, actorID, recipient.ID, amount, remark, actorID)
}

// ResolvePromotions возвращает акции, применимые к покупке пользователя.
// Автоматические акции в периоде действия включаются всегда; явно
// запрошенная одноразовая акция должна действовать и быть неиспользованной.
func (s *Service) ResolvePromotions(ctx context.Context, userID int64, requested []int64, now time.Time) ([]model.Promotion, error) {
	active, err := s.repo.GetActivePromotions(ctx, now)
	if err != nil {
		return nil, err
	}

	var res []model.Promotion
	included := make(map[int64]bool)

	for _, p := range active {
		if p.Type == model.PromotionAutomatic {
			res = append(res, p)
			included[p.ID] = true
		}
	}

	for _, id := range requested {
		if included[id] {
			continue
		}

		p, err := s.repo.GetPromotion(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Type != model.PromotionOnetime {
			// Автоматическая акция вне периода не применяется и по запросу.
			return nil, fmt.Errorf("%w: promotion %d", ErrPromotionExpired, id)
		}
		if !p.ActiveAt(now) {
			return nil, fmt.Errorf("%w: promotion %d", ErrPromotionExpired, id)
		}

		used, err := s.repo.HasUsedPromotion(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, fmt.Errorf("%w: promotion %d", repository.ErrPromotionAlreadyUsed, id)
		}

		res = append(res, *p)
		included[id] = true
	}

	return res, nil
}
