// Package model содержит доменные сущности системы лояльности.
package model

import "time"

// Role определяет глобальную роль пользователя в системе.
type Role string

const (
	RoleRegular   Role = "regular"
	RoleCashier   Role = "cashier"
	RoleManager   Role = "manager"
	RoleSuperuser Role = "superuser"
)

// Valid сообщает, является ли значение известной ролью.
func (r Role) Valid() bool {
	switch r {
	case RoleRegular, RoleCashier, RoleManager, RoleSuperuser:
		return true
	}
	return false
}

// User представляет зарегистрированного пользователя системы лояльности.
// Баланс пользователя нигде не хранится: он всегда вычисляется как сумма
// всех его транзакций.
type User struct {
	ID           int64
	Handle       string
	Name         string
	Email        string
	Role         Role
	Verified     bool
	PasswordHash []byte
	CreatedAt    time.Time
}

// TransactionType описывает тип транзакции в журнале баллов.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionRedemption TransactionType = "redemption"
	TransactionTransfer   TransactionType = "transfer"
	TransactionEvent      TransactionType = "event"
	TransactionAdjustment TransactionType = "adjustment"
)

// Transaction описывает одну неизменяемую запись журнала баллов.
// Записи никогда не изменяются и не удаляются после создания.
type Transaction struct {
	ID           int64
	UserID       int64
	Type         TransactionType
	Amount       int64
	Remark       string
	CreatedBy    int64
	RelatedEvent *int64
	Counterparty *int64
	CreatedAt    time.Time
}

// Event описывает мероприятие с ограничением вместимости и пулом баллов.
// Сумма PointsAwarded и PointsRemain фиксируется при создании и никогда
// не меняется: перемещается только граница между двумя полями.
type Event struct {
	ID            int64
	Name          string
	Description   string
	Location      string
	StartsAt      time.Time
	EndsAt        time.Time
	Capacity      *int64
	PointsAwarded int64
	PointsRemain  int64
	Published     bool
	CreatedAt     time.Time
}

// Ended сообщает, завершилось ли мероприятие к указанному моменту.
// Состояние "завершено" не хранится, а каждый раз выводится из времени.
func (e *Event) Ended(now time.Time) bool {
	return now.After(e.EndsAt)
}

// Happening сообщает, идёт ли мероприятие в указанный момент.
func (e *Event) Happening(now time.Time) bool {
	return !now.Before(e.StartsAt) && !now.After(e.EndsAt)
}

// PromotionType описывает тип акции.
type PromotionType string

const (
	// PromotionOnetime — акция, которую каждый пользователь может
	// использовать не более одного раза.
	PromotionOnetime PromotionType = "onetime"
	// PromotionAutomatic — акция, применяемая к каждой подходящей
	// транзакции в период действия без учёта использований.
	PromotionAutomatic PromotionType = "automatic"
)

// Promotion описывает акцию, начисляющую бонусные баллы к покупкам.
type Promotion struct {
	ID          int64
	Name        string
	Description string
	Type        PromotionType
	StartsAt    time.Time
	EndsAt      time.Time
	Points      int64
}

// ActiveAt сообщает, действует ли акция в указанный момент.
func (p *Promotion) ActiveAt(now time.Time) bool {
	return !now.Before(p.StartsAt) && !now.After(p.EndsAt)
}
