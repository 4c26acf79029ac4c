package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/loyalty-system/internal/model"
)

// TransactionParams описывает параметры добавляемой записи журнала.
// Amount — знаковая величина: начисления положительны, списания отрицательны.
type TransactionParams struct {
	UserID       int64
	Type         model.TransactionType
	Amount       int64
	Remark       string
	CreatedBy    int64
	RelatedEvent *int64
	// Promotions — акции, применяемые к покупке. Бонус каждой акции
	// добавляется к сумме транзакции; для одноразовых акций в той же
	// транзакции БД создаётся запись об использовании.
	Promotions []model.Promotion
}

const transactionColumns = `id, user_id, type, amount, remark, created_by, related_event, counterparty, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var typ string
	err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.Remark, &t.CreatedBy, &t.RelatedEvent, &t.Counterparty, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Type = model.TransactionType(typ)
	return &t, nil
}

// lockUser захватывает блокировку строки пользователя на время транзакции БД.
// Пока блокировка удерживается, конкурирующие списания того же пользователя ждут.
func lockUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	var dummy int
	err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user for update: %w", err)
	}
	return nil
}

// userBalance вычисляет баланс как сумму всех транзакций пользователя.
// Вызывается внутри транзакции БД, уже удерживающей блокировку пользователя.
func userBalance(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	return balance, nil
}

// coversDebit сообщает, допускает ли баланс списание. Amount — знаковая
// величина транзакции, отрицательная для списаний.
func coversDebit(balance, amount int64) bool {
	return balance+amount >= 0
}

func insertTransaction(ctx context.Context, tx pgx.Tx, userID int64, typ model.TransactionType, amount int64, remark string, createdBy int64, relatedEvent, counterparty *int64) (*model.Transaction, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO transactions (user_id, type, amount, remark, created_by, related_event, counterparty)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+transactionColumns,
		userID, string(typ), amount, remark, createdBy, relatedEvent, counterparty,
	)
	return scanTransaction(row)
}

// CreateTransaction добавляет запись в журнал баллов как единую транзакцию БД.
// Строка пользователя блокируется, баланс вычисляется под блокировкой, и
// списание, превышающее баланс, откатывается целиком с ErrInsufficientBalance.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, p TransactionParams) (*model.Transaction, error) {
	var result *model.Transaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := lockUser(ctx, tx, p.UserID); err != nil {
			return err
		}

		amount := p.Amount
		for _, promo := range p.Promotions {
			amount += promo.Points
		}

		if amount < 0 {
			balance, err := userBalance(ctx, tx, p.UserID)
			if err != nil {
				return err
			}
			if !coversDebit(balance, amount) {
				return ErrInsufficientBalance
			}
		}

		for _, promo := range p.Promotions {
			if promo.Type != model.PromotionOnetime {
				continue
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO promotion_uses (promotion_id, user_id) VALUES ($1, $2)`,
				promo.ID, p.UserID,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: promotion %d", ErrPromotionAlreadyUsed, promo.ID)
				}
				return fmt.Errorf("insert promotion use: %w", err)
			}
		}

		created, err := insertTransaction(ctx, tx, p.UserID, p.Type, amount, p.Remark, p.CreatedBy, p.RelatedEvent, nil)
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

// CreateTransfer атомарно создаёт пару связанных транзакций перевода:
// списание у отправителя и зачисление получателю. Если хотя бы одна часть
// не может быть добавлена, не фиксируется ни одна.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, senderID, recipientID, amount int64, remark string, createdBy int64) (*model.Transaction, *model.Transaction, error) {
	var debit, credit *model.Transaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Строки обоих пользователей блокируются в порядке возрастания id,
		// чтобы встречные переводы не взаимоблокировались.
		first, second := senderID, recipientID
		if second < first {
			first, second = second, first
		}
		if err := lockUser(ctx, tx, first); err != nil {
			return err
		}
		if err := lockUser(ctx, tx, second); err != nil {
			return err
		}

		balance, err := userBalance(ctx, tx, senderID)
		if err != nil {
			return err
		}
		if !coversDebit(balance, -amount) {
			return ErrInsufficientBalance
		}

		debit, err = insertTransaction(ctx, tx, senderID, model.TransactionTransfer, -amount, remark, createdBy, nil, &recipientID)
		if err != nil {
			return err
		}

		credit, err = insertTransaction(ctx, tx, recipientID, model.TransactionTransfer, amount, remark, createdBy, nil, &senderID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// GetBalance возвращает текущий баланс пользователя: сумму всех его транзакций.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	return balance, nil
}

// GetTransactionsByUser возвращает транзакции пользователя в порядке создания,
// от новых к старым.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
