// Package auth реализует проверку прав доступа к операциям системы лояльности.
// Проверка не имеет состояния: решение принимается только по глобальной роли
// актора, его отношению к конкретному мероприятию (организатор или нет)
// и выполняемому действию.
package auth

import "github.com/mmeshcher/loyalty-system/internal/model"

// Action перечисляет действия, требующие проверки прав.
type Action string

const (
	ActionCreatePurchase   Action = "create-purchase"
	ActionCreateAdjustment Action = "create-adjustment"
	ActionCreateRedemption Action = "create-redemption"
	ActionCreateTransfer   Action = "create-transfer"
	ActionRSVP             Action = "rsvp-self"
	ActionCreateEvent      Action = "create-event"
	ActionEditEvent        Action = "edit-event"
	ActionPublishEvent     Action = "publish-event"
	ActionDeleteEvent      Action = "delete-event"
	ActionAddOrganizer     Action = "add-organizer"
	ActionAddGuest         Action = "add-guest-other"
	ActionRemoveGuest      Action = "remove-guest"
	ActionAwardSingle      Action = "award-single"
	ActionAwardAll         Action = "award-all"
	ActionCreatePromotion  Action = "create-promotion"
)

var roleRank = map[model.Role]int{
	model.RoleRegular:   0,
	model.RoleCashier:   1,
	model.RoleManager:   2,
	model.RoleSuperuser: 3,
}

// rule задаёт минимальную глобальную роль для действия и признак того,
// что организатор мероприятия получает право независимо от роли.
type rule struct {
	minRole   model.Role
	organizer bool
}

var rules = map[Action]rule{
	ActionCreatePurchase:   {minRole: model.RoleCashier},
	ActionCreateAdjustment: {minRole: model.RoleManager},
	ActionCreateRedemption: {minRole: model.RoleRegular},
	ActionCreateTransfer:   {minRole: model.RoleRegular},
	ActionRSVP:             {minRole: model.RoleRegular},
	ActionCreateEvent:      {minRole: model.RoleManager},
	ActionEditEvent:        {minRole: model.RoleManager, organizer: true},
	ActionPublishEvent:     {minRole: model.RoleManager},
	ActionDeleteEvent:      {minRole: model.RoleManager},
	ActionAddOrganizer:     {minRole: model.RoleManager},
	ActionAddGuest:         {minRole: model.RoleManager, organizer: true},
	ActionRemoveGuest:      {minRole: model.RoleManager},
	ActionAwardSingle:      {minRole: model.RoleManager, organizer: true},
	ActionAwardAll:         {minRole: model.RoleManager, organizer: true},
	ActionCreatePromotion:  {minRole: model.RoleManager},
}

// Allowed сообщает, разрешено ли действие актору с указанной ролью.
// Параметр organizer показывает, является ли актор организатором
// мероприятия, к которому относится действие; для действий вне контекста
// мероприятия он игнорируется.
func Allowed(role model.Role, organizer bool, action Action) bool {
	r, ok := rules[action]
	if !ok {
		return false
	}

	rank, ok := roleRank[role]
	if !ok {
		return false
	}

	if rank >= roleRank[r.minRole] {
		return true
	}

	return r.organizer && organizer
}
