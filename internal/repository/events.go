package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/loyalty-system/internal/model"
)

// EventParams описывает параметры создаваемого мероприятия.
// Points — полный пул баллов, фиксируемый при создании.
type EventParams struct {
	Name        string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	Capacity    *int64
	Points      int64
}

// EventUpdate описывает частичное обновление полей мероприятия.
// Нулевые указатели означают "не менять". Пул баллов не изменяется
// после создания ни при каких обновлениях.
type EventUpdate struct {
	Name        *string
	Description *string
	Location    *string
	StartsAt    *time.Time
	EndsAt      *time.Time
	Capacity    *int64
}

const eventColumns = `id, name, description, location, starts_at, ends_at, capacity, points_awarded, points_remain, published, created_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Location, &e.StartsAt, &e.EndsAt, &e.Capacity, &e.PointsAwarded, &e.PointsRemain, &e.Published, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &e, nil
}

// lockEvent захватывает блокировку строки мероприятия на время транзакции БД
// и возвращает его текущее состояние. Конкурирующие записи гостей и начисления
// по тому же мероприятию сериализуются на этой блокировке.
func lockEvent(ctx context.Context, tx pgx.Tx, eventID int64) (*model.Event, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	)
	return scanEvent(row)
}

func countGuests(ctx context.Context, tx pgx.Tx, eventID int64) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_guests WHERE event_id = $1`,
		eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count guests: %w", err)
	}
	return n, nil
}

// hasSeat сообщает, остаётся ли свободное место при указанном числе гостей.
// Nil-вместимость означает отсутствие ограничения.
func hasSeat(capacity *int64, guests int64) bool {
	return capacity == nil || guests < *capacity
}

// poolCovers сообщает, покрывает ли остаток пула начисление amount каждому
// из n получателей. Сравнение через деление: произведение amount*n может
// переполнить int64 и пройти прямую проверку против остатка.
func poolCovers(remain, amount, n int64) bool {
	if n <= 0 {
		return false
	}
	return amount <= remain/n
}

// applyEventUpdate накладывает частичное обновление на текущее состояние
// мероприятия и проверяет итоговый интервал времени: обновление одного
// конца интервала сверяется с другим, уже сохранённым. Вместимость здесь
// не меняется, её проверка требует числа гостей.
func applyEventUpdate(e *model.Event, upd EventUpdate) error {
	if upd.Name != nil {
		e.Name = *upd.Name
	}
	if upd.Description != nil {
		e.Description = *upd.Description
	}
	if upd.Location != nil {
		e.Location = *upd.Location
	}
	if upd.StartsAt != nil {
		e.StartsAt = *upd.StartsAt
	}
	if upd.EndsAt != nil {
		e.EndsAt = *upd.EndsAt
	}
	if !e.EndsAt.After(e.StartsAt) {
		return ErrInvalidEventTime
	}
	return nil
}

// CreateEvent создаёт мероприятие с фиксированным пулом баллов.
// Новое мероприятие не опубликовано, пул целиком в points_remain.
func (r *PostgresRepository) CreateEvent(ctx context.Context, p EventParams) (*model.Event, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO events (name, description, location, starts_at, ends_at, capacity, points_remain)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+eventColumns,
		p.Name, p.Description, p.Location, p.StartsAt, p.EndsAt, p.Capacity, p.Points,
	)
	e, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

// GetEvent возвращает мероприятие по идентификатору.
func (r *PostgresRepository) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	)
	return scanEvent(row)
}

// ListEvents возвращает все мероприятия, новые первыми.
func (r *PostgresRepository) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY starts_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var res []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateEvent изменяет описательные поля мероприятия. Поля без числового
// инварианта обновляются по принципу "последняя запись побеждает";
// итоговый интервал времени проверяется после слияния с текущим состоянием,
// а уменьшение вместимости ниже текущего числа гостей отклоняется.
func (r *PostgresRepository) UpdateEvent(ctx context.Context, id int64, upd EventUpdate) (*model.Event, error) {
	var result *model.Event

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		e, err := lockEvent(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := applyEventUpdate(e, upd); err != nil {
			return err
		}
		if upd.Capacity != nil {
			guests, err := countGuests(ctx, tx, id)
			if err != nil {
				return err
			}
			if *upd.Capacity < guests {
				return ErrEventFull
			}
			e.Capacity = upd.Capacity
		}

		row := tx.QueryRow(ctx,
			`UPDATE events
			 SET name = $2, description = $3, location = $4, starts_at = $5, ends_at = $6, capacity = $7
			 WHERE id = $1
			 RETURNING `+eventColumns,
			id, e.Name, e.Description, e.Location, e.StartsAt, e.EndsAt, e.Capacity,
		)
		updated, err := scanEvent(row)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PublishEvent публикует мероприятие. Переход односторонний:
// пути обратно в неопубликованное состояние нет.
func (r *PostgresRepository) PublishEvent(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE events SET published = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// DeleteEvent удаляет мероприятие вместе с гостевым списком и организаторами.
// Удаление отклоняется, если на мероприятие ссылается хотя бы одна транзакция:
// журнальная история никогда не теряется молча.
func (r *PostgresRepository) DeleteEvent(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := lockEvent(ctx, tx, id); err != nil {
			return err
		}

		var referenced bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE related_event = $1)`,
			id,
		).Scan(&referenced)
		if err != nil {
			return fmt.Errorf("check event history: %w", err)
		}
		if referenced {
			return ErrEventHasHistory
		}

		if _, err := tx.Exec(ctx, `DELETE FROM event_guests WHERE event_id = $1`, id); err != nil {
			return fmt.Errorf("delete guests: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM event_organizers WHERE event_id = $1`, id); err != nil {
			return fmt.Errorf("delete organizers: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// AddGuest добавляет гостя как единую транзакцию БД. Проверка вместимости и
// вставка гостя выполняются под блокировкой строки мероприятия, поэтому из
// двух конкурирующих записей на последнее место ровно одна получает ErrEventFull.
// Для самостоятельной записи (rsvp) мероприятие должно быть опубликовано.
func (r *PostgresRepository) AddGuest(ctx context.Context, eventID, userID int64, rsvp bool, now time.Time) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		e, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}

		if rsvp && !e.Published {
			return ErrEventNotPublished
		}
		if e.Ended(now) {
			return ErrEventEnded
		}

		var already bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM event_guests WHERE event_id = $1 AND user_id = $2)`,
			eventID, userID,
		).Scan(&already)
		if err != nil {
			return fmt.Errorf("check guest: %w", err)
		}
		if already {
			return ErrAlreadyGuest
		}

		if e.Capacity != nil {
			guests, err := countGuests(ctx, tx, eventID)
			if err != nil {
				return err
			}
			if !hasSeat(e.Capacity, guests) {
				return ErrEventFull
			}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO event_guests (event_id, user_id) VALUES ($1, $2)`,
			eventID, userID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyGuest
			}
			return fmt.Errorf("insert guest: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// RemoveGuest убирает гостя из списка. Удаление разрешено и после окончания
// мероприятия: исправление записей не ограничено временем.
func (r *PostgresRepository) RemoveGuest(ctx context.Context, eventID, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM event_guests WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete guest: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`,
			eventID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check event: %w", err)
		}
		if !exists {
			return ErrEventNotFound
		}
		return ErrNotGuest
	}
	return nil
}

// AddOrganizer назначает пользователя организатором мероприятия.
// Ограничения вместимости на организаторов не распространяются.
func (r *PostgresRepository) AddOrganizer(ctx context.Context, eventID, userID int64) error {
	if _, err := r.GetEvent(ctx, eventID); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO event_organizers (event_id, user_id) VALUES ($1, $2)`,
		eventID, userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyOrganizer
		}
		return fmt.Errorf("insert organizer: %w", err)
	}
	return nil
}

// IsOrganizer сообщает, является ли пользователь организатором мероприятия.
func (r *PostgresRepository) IsOrganizer(ctx context.Context, eventID, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_organizers WHERE event_id = $1 AND user_id = $2)`,
		eventID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check organizer: %w", err)
	}
	return ok, nil
}

// ListGuests возвращает гостей мероприятия в порядке записи.
func (r *PostgresRepository) ListGuests(ctx context.Context, eventID int64) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.handle, u.name, u.email, u.role, u.verified, u.password_hash, u.created_at
		 FROM event_guests g
		 JOIN users u ON u.id = g.user_id
		 WHERE g.event_id = $1
		 ORDER BY g.added_at`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("select guests: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AwardSingle начисляет баллы одному гостю как единую транзакцию БД:
// под блокировкой строки мероприятия пул уменьшается и добавляется
// транзакция типа event. Сумма points_awarded + points_remain неизменна.
func (r *PostgresRepository) AwardSingle(ctx context.Context, eventID, recipientID, amount, createdBy int64, now time.Time) (*model.Transaction, error) {
	var result *model.Transaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		e, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}

		if !e.Happening(now) {
			return ErrEventNotHappening
		}

		var guest bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM event_guests WHERE event_id = $1 AND user_id = $2)`,
			eventID, recipientID,
		).Scan(&guest)
		if err != nil {
			return fmt.Errorf("check guest: %w", err)
		}
		if !guest {
			return ErrNotGuest
		}

		if !poolCovers(e.PointsRemain, amount, 1) {
			return ErrInsufficientEventPoints
		}

		_, err = tx.Exec(ctx,
			`UPDATE events
			 SET points_remain = points_remain - $2, points_awarded = points_awarded + $2
			 WHERE id = $1`,
			eventID, amount,
		)
		if err != nil {
			return fmt.Errorf("move event points: %w", err)
		}

		created, err := insertTransaction(ctx, tx, recipientID, model.TransactionEvent, amount, e.Name, createdBy, &eventID, nil)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AwardAll начисляет одинаковую сумму каждому текущему гостю мероприятия.
// Если пул не покрывает всех гостей, операция откатывается целиком:
// частичных начислений не бывает.
func (r *PostgresRepository) AwardAll(ctx context.Context, eventID, amount, createdBy int64, now time.Time) ([]model.Transaction, error) {
	var result []model.Transaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		e, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}

		if !e.Happening(now) {
			return ErrEventNotHappening
		}

		rows, err := tx.Query(ctx,
			`SELECT user_id FROM event_guests WHERE event_id = $1 ORDER BY user_id`,
			eventID,
		)
		if err != nil {
			return fmt.Errorf("select guests: %w", err)
		}

		var guests []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan guest: %w", err)
			}
			guests = append(guests, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(guests) == 0 {
			return ErrNoGuests
		}

		if !poolCovers(e.PointsRemain, amount, int64(len(guests))) {
			return ErrInsufficientEventPoints
		}
		total := amount * int64(len(guests))

		_, err = tx.Exec(ctx,
			`UPDATE events
			 SET points_remain = points_remain - $2, points_awarded = points_awarded + $2
			 WHERE id = $1`,
			eventID, total,
		)
		if err != nil {
			return fmt.Errorf("move event points: %w", err)
		}

		created := make([]model.Transaction, 0, len(guests))
		for _, guestID := range guests {
			t, err := insertTransaction(ctx, tx, guestID, model.TransactionEvent, amount, e.Name, createdBy, &eventID, nil)
			if err != nil {
				return err
			}
			created = append(created, *t)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
