// Package repository содержит реализацию доступа к данным в PostgreSQL.
// Все мутирующие операции над балансами, гостевыми списками и пулами баллов
// выполняются как единые транзакции БД с блокировкой спорной строки.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/loyalty-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим handle.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrEventNotFound возвращается, если мероприятие не найдено.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventNotPublished возвращается при попытке записаться на неопубликованное мероприятие.
	ErrEventNotPublished = errors.New("event not published")
	// ErrEventEnded возвращается при попытке добавить гостя после окончания мероприятия.
	ErrEventEnded = errors.New("event has ended")
	// ErrEventNotHappening возвращается при попытке начислить баллы вне времени проведения.
	ErrEventNotHappening = errors.New("event is not happening")
	// ErrEventFull возвращается, когда мест на мероприятии не осталось.
	ErrEventFull = errors.New("event is full")
	// ErrAlreadyGuest возвращается при повторной записи гостя.
	ErrAlreadyGuest = errors.New("already a guest")
	// ErrAlreadyOrganizer возвращается при повторном назначении организатора.
	ErrAlreadyOrganizer = errors.New("already an organizer")
	// ErrNotGuest возвращается, если пользователь не числится гостем мероприятия.
	ErrNotGuest = errors.New("not a guest of the event")
	// ErrNoGuests возвращается при массовом начислении на мероприятие без гостей.
	ErrNoGuests = errors.New("event has no guests")
	// ErrInsufficientEventPoints возвращается, когда пул мероприятия не покрывает начисление.
	ErrInsufficientEventPoints = errors.New("insufficient event points")
	// ErrInvalidEventTime возвращается, когда после обновления мероприятие
	// заканчивалось бы не позже, чем начинается.
	ErrInvalidEventTime = errors.New("event must end after it starts")
	// ErrEventHasHistory возвращается при попытке удалить мероприятие,
	// на которое ссылаются транзакции: история не теряется молча.
	ErrEventHasHistory = errors.New("event is referenced by transactions")
	// ErrPromotionNotFound возвращается, если акция не найдена.
	ErrPromotionNotFound = errors.New("promotion not found")
	// ErrPromotionAlreadyUsed возвращается при повторном использовании одноразовой акции.
	ErrPromotionAlreadyUsed = errors.New("promotion already used")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках: Serialization Failure,
// Deadlock и сетевых сбоях. Бизнес-ошибки не повторяются.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с ролью regular.
func (r *PostgresRepository) CreateUser(ctx context.Context, handle, name, email string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (handle, name, email, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		handle, name, email, string(model.RoleRegular), passwordHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, handle)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, handle, name, email, role, verified, password_hash, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Handle, &u.Name, &u.Email, &role, &u.Verified, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetUserByHandle возвращает пользователя по его handle.
func (r *PostgresRepository) GetUserByHandle(ctx context.Context, handle string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE handle = $1`,
		handle,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// UpdateUserRole изменяет глобальную роль пользователя.
func (r *PostgresRepository) UpdateUserRole(ctx context.Context, id int64, role model.Role) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET role = $2 WHERE id = $1`,
		id, string(role),
	)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// VerifyUser помечает пользователя как проверенного.
func (r *PostgresRepository) VerifyUser(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET verified = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
