package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/loyalty-system/internal/auth"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/repository"
)

// EventRequest описывает запрос на создание мероприятия.
type EventRequest struct {
	Name        string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	Capacity    *int64
	Points      int64
}

// authorizeEventAction загружает актора, выясняет его отношение к мероприятию
// и проверяет право на действие. Вызывается перед каждой мутацией мероприятия.
func (s *Service) authorizeEventAction(ctx context.Context, actorID, eventID int64, action auth.Action) (*model.User, error) {
	actor, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	organizer := false
	if eventID != 0 {
		organizer, err = s.repo.IsOrganizer(ctx, eventID, actorID)
		if err != nil {
			return nil, err
		}
	}

	if !auth.Allowed(actor.Role, organizer, action) {
		return nil, ErrUnauthorized
	}

	return actor, nil
}

// CreateEvent создаёт мероприятие с фиксированным пулом баллов.
func (s *Service) CreateEvent(ctx context.Context, actorID int64, req EventRequest) (*model.Event, error) {
	if _, err := s.authorizeEventAction(ctx, actorID, 0, auth.ActionCreateEvent); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, fmt.Errorf("%w: event must end after it starts", ErrInvalidInput)
	}
	if req.Points <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Capacity != nil && *req.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
	}

	return s.repo.CreateEvent(ctx, repository.EventParams{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
		Points:      req.Points,
	})
}

// GetEvent возвращает мероприятие по идентификатору.
func (s *Service) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return s.repo.GetEvent(ctx, id)
}

// ListEvents возвращает все мероприятия.
func (s *Service) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.repo.ListEvents(ctx)
}

// ListGuests возвращает гостей мероприятия.
func (s *Service) ListGuests(ctx context.Context, eventID int64) ([]model.User, error) {
	if _, err := s.repo.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListGuests(ctx, eventID)
}

// EditEvent изменяет описательные поля мероприятия. Разрешено менеджерам
// и организаторам этого мероприятия. Интервал времени проверяется в
// репозитории после слияния с сохранённым состоянием: обновление одного
// конца интервала сверяется с другим.
func (s *Service) EditEvent(ctx context.Context, actorID, eventID int64, upd repository.EventUpdate) (*model.Event, error) {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionEditEvent); err != nil {
		return nil, err
	}

	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}

	return s.repo.UpdateEvent(ctx, eventID, upd)
}

// PublishEvent публикует мероприятие. Обратного перехода нет.
func (s *Service) PublishEvent(ctx context.Context, actorID, eventID int64) error {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionPublishEvent); err != nil {
		return err
	}
	return s.repo.PublishEvent(ctx, eventID)
}

// DeleteEvent удаляет мероприятие, если на него не ссылаются транзакции.
func (s *Service) DeleteEvent(ctx context.Context, actorID, eventID int64) error {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionDeleteEvent); err != nil {
		return err
	}
	return s.repo.DeleteEvent(ctx, eventID)
}

// RsvpSelf записывает актора гостем на опубликованное мероприятие.
func (s *Service) RsvpSelf(ctx context.Context, actorID, eventID int64) error {
	if _, err := s.authorizeEventAction(ctx, actorID, 0, auth.ActionRSVP); err != nil {
		return err
	}
	return s.repo.AddGuest(ctx, eventID, actorID, true, s.now())
}

// AddGuest записывает указанного пользователя гостем от имени организатора
// или менеджера.
func (s *Service) AddGuest(ctx context.Context, actorID, eventID int64, guestHandle string) error {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionAddGuest); err != nil {
		return err
	}

	guest, err := s.repo.GetUserByHandle(ctx, guestHandle)
	if err != nil {
		return err
	}

	return s.repo.AddGuest(ctx, eventID, guest.ID, false, s.now())
}

// RemoveGuest убирает гостя из списка. Доступно только менеджерам и выше:
// организатор не может втихую вычищать записи о посещении.
func (s *Service) RemoveGuest(ctx context.Context, actorID, eventID int64, guestHandle string) error {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionRemoveGuest); err != nil {
		return err
	}

	guest, err := s.repo.GetUserByHandle(ctx, guestHandle)
	if err != nil {
		return err
	}

	return s.repo.RemoveGuest(ctx, eventID, guest.ID)
}

// AddOrganizer назначает пользователя организатором мероприятия.
func (s *Service) AddOrganizer(ctx context.Context, actorID, eventID int64, handle string) error {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionAddOrganizer); err != nil {
		return err
	}

	user, err := s.repo.GetUserByHandle(ctx, handle)
	if err != nil {
		return err
	}

	return s.repo.AddOrganizer(ctx, eventID, user.ID)
}

// AwardSingle начисляет баллы одному гостю идущего мероприятия.
func (s *Service) AwardSingle(ctx context.Context, actorID, eventID int64, recipientHandle string, amount int64) (*model.Transaction, error) {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionAwardSingle); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	recipient, err := s.repo.GetUserByHandle(ctx, recipientHandle)
	if err != nil {
		return nil, err
	}

	return s.repo.AwardSingle(ctx, eventID, recipient.ID, amount, actorID, s.now())
}

// AwardAll начисляет одинаковую сумму каждому гостю идущего мероприятия.
// Либо получают все, либо никто.
func (s *Service) AwardAll(ctx context.Context, actorID, eventID, amount int64) ([]model.Transaction, error) {
	if _, err := s.authorizeEventAction(ctx, actorID, eventID, auth.ActionAwardAll); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.repo.AwardAll(ctx, eventID, amount, actorID, s.now())
}

// CreatePromotion создаёт акцию.
func (s *Service) CreatePromotion(ctx context.Context, actorID int64, p repository.PromotionParams) (*model.Promotion, error) {
	if _, err := s.authorizeEventAction(ctx, actorID, 0, auth.ActionCreatePromotion); err != nil {
		return nil, err
	}

	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: promotion name is required", ErrInvalidInput)
	}
	if p.Type != model.PromotionOnetime && p.Type != model.PromotionAutomatic {
		return nil, fmt.Errorf("%w: promotion type %q", ErrInvalidInput, p.Type)
	}
	if !p.EndsAt.After(p.StartsAt) {
		return nil, fmt.Errorf("%w: promotion must end after it starts", ErrInvalidInput)
	}
	if p.Points <= 0 {
		return nil, ErrInvalidAmount
	}

	return s.repo.CreatePromotion(ctx, p)
}

// ListPromotions возвращает все акции.
func (s *Service) ListPromotions(ctx context.Context) ([]model.Promotion, error) {
	return s.repo.ListPromotions(ctx)
}
