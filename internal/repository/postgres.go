// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/admissions-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOfferingNotFound возвращается, если конвокатория не найдена.
	ErrOfferingNotFound = errors.New("offering not found")
	// ErrOfferingClosed возвращается при работе с уже закрытой конвокаторией.
	ErrOfferingClosed = errors.New("offering is closed")
	// ErrAlreadyEnrolled возвращается при повторной заявке пользователя на ту же конвокаторию.
	ErrAlreadyEnrolled = errors.New("user already enrolled")
	// ErrInsufficientCredit возвращается, если кредита пользователя не хватает на оплату места.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrEnrollmentNotPending возвращается, если заявка уже допущена или отклонена.
	ErrEnrollmentNotPending = errors.New("enrollment is not pending")
	// ErrNoSeatsLeft возвращается, если все места конвокатории уже заняты.
	ErrNoSeatsLeft = errors.New("no seats left")
	// ErrRepositoryUnavailable возвращается, если хранилище недоступно после всех повторов.
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

var defaultRetryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
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
		return nil, fmt.Errorf("%w: ping database: %v", ErrRepositoryUnavailable, err)
	}

	r := &PostgresRepository{pool: pool, retryDelays: defaultRetryDelays}

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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) {
			return err
		}

		if i < len(r.retryDelays) {
			timer := time.NewTimer(r.retryDelays[i])
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	return err
}

func isRetryable(err error) bool {
	// Ретраим конфликты сериализации и взаимные блокировки, а также обрывы соединения.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(v int64) float64 {
	return float64(v) / 100
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с начальным кредитом и числом курсов по тематике.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, credit float64, coursesInTopic int) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO users (login, password_hash, credit, courses_in_topic) VALUES ($1, $2, $3, $4) RETURNING id`,
			login, passwordHash, toCents(credit), coursesInTopic,
		).Scan(&id)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetCredentials возвращает идентификатор и хеш пароля пользователя по логину.
func (r *PostgresRepository) GetCredentials(ctx context.Context, login string) (int64, []byte, error) {
	var (
		id   int64
		hash []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, password_hash FROM users WHERE login = $1`,
		login,
	).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrUserNotFound
		}
		return 0, nil, fmt.Errorf("get credentials: %w", err)
	}
	return id, hash, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var (
		login        string
		creditCents  int64
		courses      int
		registeredAt time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT login, credit, courses_in_topic, registered_at FROM users WHERE id = $1`,
		userID,
	).Scan(&login, &creditCents, &courses, &registeredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return model.NewUser(userID, login, fromCents(creditCents), courses, registeredAt), nil
}

// CreateOffering сохраняет новую конвокаторию.
func (r *PostgresRepository) CreateOffering(ctx context.Context, description string, price float64, maxSeats int, closesAt *time.Time) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO offerings (description, price, max_seats, status, closes_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			description, toCents(price), maxSeats, string(model.OfferingStatusOpen), closesAt,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("create offering: %w", err)
	}
	return id, nil
}

// GetOffering возвращает конвокаторию вместе с поданными заявками.
func (r *PostgresRepository) GetOffering(ctx context.Context, offeringID int64) (*model.OfferingRecord, error) {
	var (
		description string
		priceCents  int64
		maxSeats    int
		status      string
		closesAt    *time.Time
		createdAt   time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT description, price, max_seats, status, closes_at, created_at FROM offerings WHERE id = $1`,
		offeringID,
	).Scan(&description, &priceCents, &maxSeats, &status, &closesAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferingNotFound
		}
		return nil, fmt.Errorf("get offering: %w", err)
	}

	enrollments, err := r.selectEnrollments(ctx, offeringID)
	if err != nil {
		return nil, err
	}

	o := model.NewOffering(offeringID, description, fromCents(priceCents), maxSeats, enrollments)
	o.Status = model.OfferingStatus(status)
	o.ClosesAt = closesAt
	o.CreatedAt = createdAt

	return o, nil
}

// GetEnrollments возвращает заявки конвокатории в порядке подачи.
func (r *PostgresRepository) GetEnrollments(ctx context.Context, offeringID int64) ([]model.Enrollment, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM offerings WHERE id = $1)`,
		offeringID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check offering: %w", err)
	}
	if !exists {
		return nil, ErrOfferingNotFound
	}

	return r.selectEnrollments(ctx, offeringID)
}

// selectEnrollments загружает заявки; заявки одного пользователя ссылаются на один *model.User.
func (r *PostgresRepository) selectEnrollments(ctx context.Context, offeringID int64) ([]model.Enrollment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.credit, e.courses_in_topic, e.user_registered_at, e.status, e.created_at,
		        u.id, u.login, u.credit, u.courses_in_topic, u.registered_at
		 FROM enrollments e
		 JOIN users u ON u.id = e.user_id
		 WHERE e.offering_id = $1
		 ORDER BY e.id`,
		offeringID,
	)
	if err != nil {
		return nil, fmt.Errorf("select enrollments: %w", err)
	}
	defer rows.Close()

	users := make(map[int64]*model.User)
	res := make([]model.Enrollment, 0)
	for rows.Next() {
		var (
			id               int64
			snapCredit       int64
			snapCourses      int
			snapRegisteredAt time.Time
			status           string
			createdAt        time.Time
			userID           int64
			login            string
			userCredit       int64
			userCourses      int
			userRegisteredAt time.Time
		)
		if err := rows.Scan(&id, &snapCredit, &snapCourses, &snapRegisteredAt, &status, &createdAt,
			&userID, &login, &userCredit, &userCourses, &userRegisteredAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}

		u, ok := users[userID]
		if !ok {
			u = model.NewUser(userID, login, fromCents(userCredit), userCourses, userRegisteredAt)
			users[userID] = u
		}

		e := model.RestoreEnrollment(id, u, fromCents(snapCredit), snapCourses, snapRegisteredAt)
		e.Status = model.EnrollmentStatus(status)
		e.CreatedAt = createdAt
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateEnrollment создаёт заявку, фиксируя текущее состояние пользователя.
func (r *PostgresRepository) CreateEnrollment(ctx context.Context, offeringID, userID int64) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокировка FOR SHARE не даёт закрыть конвокаторию во время подачи заявки.
		var status string
		err = tx.QueryRow(ctx, `SELECT status FROM offerings WHERE id = $1 FOR SHARE`, offeringID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOfferingNotFound
			}
			return fmt.Errorf("lock offering: %w", err)
		}
		if model.OfferingStatus(status) != model.OfferingStatusOpen {
			return ErrOfferingClosed
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO enrollments (offering_id, user_id, credit, courses_in_topic, user_registered_at, status)
			 SELECT $1, u.id, u.credit, u.courses_in_topic, u.registered_at, $3
			 FROM users u WHERE u.id = $2
			 RETURNING id`,
			offeringID, userID, string(model.EnrollmentStatusPending),
		).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrAlreadyEnrolled
			}
			return fmt.Errorf("insert enrollment: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// BeginAdmission переводит конвокаторию в статус ADMITTING. Повторный вызов для
// конвокатории в статусе ADMITTING разрешён: так продолжается прерванный приём.
func (r *PostgresRepository) BeginAdmission(ctx context.Context, offeringID int64) error {
	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE offerings SET status = $2 WHERE id = $1 AND status IN ($3, $2)`,
			offeringID, string(model.OfferingStatusAdmitting), string(model.OfferingStatusOpen),
		)
		if err != nil {
			return fmt.Errorf("begin admission: %w", err)
		}
		if cmdTag.RowsAffected() == 1 {
			return nil
		}

		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM offerings WHERE id = $1)`, offeringID).Scan(&exists); err != nil {
			return fmt.Errorf("check offering: %w", err)
		}
		if !exists {
			return ErrOfferingNotFound
		}
		return ErrOfferingClosed
	})
}

// CompleteAdmission закрывает конвокаторию после проведения приёма.
func (r *PostgresRepository) CompleteAdmission(ctx context.Context, offeringID int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE offerings SET status = $2 WHERE id = $1 AND status = $3`,
			offeringID, string(model.OfferingStatusClosed), string(model.OfferingStatusAdmitting),
		)
		if err != nil {
			return fmt.Errorf("complete admission: %w", err)
		}
		return nil
	})
}

// AdmitEnrollment списывает цену места с кредита пользователя, увеличивает счётчик курсов
// и отмечает заявку допущенной. Строка конвокатории блокируется, чтобы число допущенных
// не превысило max_seats, строка пользователя - чтобы сериализовать списания по разным
// конвокаториям.
func (r *PostgresRepository) AdmitEnrollment(ctx context.Context, enrollmentID int64, price float64) error {
	priceCents := toCents(price)

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var offeringID, userID int64
		err = tx.QueryRow(ctx,
			`SELECT offering_id, user_id FROM enrollments WHERE id = $1`,
			enrollmentID,
		).Scan(&offeringID, &userID)
		if err != nil {
			return fmt.Errorf("select enrollment: %w", err)
		}

		var maxSeats int
		err = tx.QueryRow(ctx, `SELECT max_seats FROM offerings WHERE id = $1 FOR UPDATE`, offeringID).Scan(&maxSeats)
		if err != nil {
			return fmt.Errorf("lock offering for update: %w", err)
		}

		// Статус читается под блокировкой конвокатории.
		var status string
		err = tx.QueryRow(ctx, `SELECT status FROM enrollments WHERE id = $1`, enrollmentID).Scan(&status)
		if err != nil {
			return fmt.Errorf("select enrollment status: %w", err)
		}
		if model.EnrollmentStatus(status) != model.EnrollmentStatusPending {
			return ErrEnrollmentNotPending
		}

		var admitted int
		err = tx.QueryRow(ctx,
			`SELECT count(*) FROM enrollments WHERE offering_id = $1 AND status = $2`,
			offeringID, string(model.EnrollmentStatusAdmitted),
		).Scan(&admitted)
		if err != nil {
			return fmt.Errorf("count admitted: %w", err)
		}
		if admitted >= maxSeats {
			return ErrNoSeatsLeft
		}

		var creditCents int64
		err = tx.QueryRow(ctx, `SELECT credit FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&creditCents)
		if err != nil {
			return fmt.Errorf("lock user for update: %w", err)
		}

		if creditCents < priceCents {
			return ErrInsufficientCredit
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET credit = credit - $2, courses_in_topic = courses_in_topic + 1 WHERE id = $1`,
			userID, priceCents,
		)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE enrollments SET status = $2 WHERE id = $1`,
			enrollmentID, string(model.EnrollmentStatusAdmitted),
		)
		if err != nil {
			return fmt.Errorf("update enrollment: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// RejectPending отклоняет все оставшиеся заявки конвокатории.
func (r *PostgresRepository) RejectPending(ctx context.Context, offeringID int64) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE enrollments SET status = $2 WHERE offering_id = $1 AND status = $3`,
			offeringID, string(model.EnrollmentStatusRejected), string(model.EnrollmentStatusPending),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("reject pending: %w", err)
	}
	return nil
}

// GetOfferingsDue возвращает открытые конвокатории, срок приёма которых истёк,
// а также конвокатории с прерванным приёмом.
func (r *PostgresRepository) GetOfferingsDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id
		 FROM offerings
		 WHERE status = $4
		    OR (status = $1 AND closes_at IS NOT NULL AND closes_at <= $2)
		 ORDER BY closes_at NULLS FIRST, id
		 LIMIT $3`,
		string(model.OfferingStatusOpen), now, limit, string(model.OfferingStatusAdmitting),
	)
	if err != nil {
		return nil, fmt.Errorf("select offerings due: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan offering: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
