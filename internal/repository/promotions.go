package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/loyalty-system/internal/model"
)

// PromotionParams описывает параметры создаваемой акции.
type PromotionParams struct {
	Name        string
	Description string
	Type        model.PromotionType
	StartsAt    time.Time
	EndsAt      time.Time
	Points      int64
}

const promotionColumns = `id, name, description, type, starts_at, ends_at, points`

func scanPromotion(row pgx.Row) (*model.Promotion, error) {
	var p model.Promotion
	var typ string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &typ, &p.StartsAt, &p.EndsAt, &p.Points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromotionNotFound
		}
		return nil, fmt.Errorf("scan promotion: %w", err)
	}
	p.Type = model.PromotionType(typ)
	return &p, nil
}

// CreatePromotion создаёт акцию.
func (r *PostgresRepository) CreatePromotion(ctx context.Context, p PromotionParams) (*model.Promotion, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO promotions (name, description, type, starts_at, ends_at, points)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+promotionColumns,
		p.Name, p.Description, string(p.Type), p.StartsAt, p.EndsAt, p.Points,
	)
	promo, err := scanPromotion(row)
	if err != nil {
		return nil, fmt.Errorf("create promotion: %w", err)
	}
	return promo, nil
}

// GetPromotion возвращает акцию по идентификатору.
func (r *PostgresRepository) GetPromotion(ctx context.Context, id int64) (*model.Promotion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+promotionColumns+` FROM promotions WHERE id = $1`,
		id,
	)
	return scanPromotion(row)
}

// ListPromotions возвращает все акции, новые первыми.
func (r *PostgresRepository) ListPromotions(ctx context.Context) ([]model.Promotion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+promotionColumns+` FROM promotions ORDER BY starts_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select promotions: %w", err)
	}
	defer rows.Close()

	var res []model.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetActivePromotions возвращает акции, действующие в указанный момент.
func (r *PostgresRepository) GetActivePromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+promotionColumns+`
		 FROM promotions
		 WHERE starts_at <= $1 AND ends_at >= $1
		 ORDER BY id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select active promotions: %w", err)
	}
	defer rows.Close()

	var res []model.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// HasUsedPromotion сообщает, использовал ли пользователь одноразовую акцию.
// Это предварительная проверка для быстрого отказа; гонку двойного
// использования окончательно закрывает первичный ключ promotion_uses
// внутри транзакции журнала.
func (r *PostgresRepository) HasUsedPromotion(ctx context.Context, promotionID, userID int64) (bool, error) {
	var used bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM promotion_uses WHERE promotion_id = $1 AND user_id = $2)`,
		promotionID, userID,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check promotion use: %w", err)
	}
	return used, nil
}
