// Package service реализует бизнес-логику сервиса приёма заявок.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/admissions-system/internal/metrics"
	"github.com/mmeshcher/admissions-system/internal/model"
	"github.com/mmeshcher/admissions-system/internal/repository"
	"github.com/mmeshcher/admissions-system/internal/selector"
	"github.com/mmeshcher/admissions-system/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCapacity возвращается при отрицательном числе мест.
	ErrInvalidCapacity = validation.ErrInvalidCapacity
	// ErrInvalidOffering возвращается при некорректных параметрах конвокатории.
	ErrInvalidOffering = validation.ErrInvalidOffering
)

const dueBatchSize = 50

// OfferingRepository загружает заявки, поданные на конвокаторию.
type OfferingRepository interface {
	GetEnrollments(ctx context.Context, offeringID int64) ([]model.Enrollment, error)
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	OfferingRepository
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, credit float64, coursesInTopic int) (int64, error)
	GetCredentials(ctx context.Context, login string) (int64, []byte, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	CreateOffering(ctx context.Context, description string, price float64, maxSeats int, closesAt *time.Time) (int64, error)
	GetOffering(ctx context.Context, offeringID int64) (*model.OfferingRecord, error)
	CreateEnrollment(ctx context.Context, offeringID, userID int64) (int64, error)
	BeginAdmission(ctx context.Context, offeringID int64) error
	CompleteAdmission(ctx context.Context, offeringID int64) error
	AdmitEnrollment(ctx context.Context, enrollmentID int64, price float64) error
	RejectPending(ctx context.Context, offeringID int64) error
	GetOfferingsDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Service содержит бизнес-логику приёма заявок.
type Service struct {
	repo     Repository
	selector selector.Selector
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и политикой отбора.
func NewService(repo Repository, sel selector.Selector, logger *zap.Logger, interval time.Duration) *Service {
	if sel == nil {
		sel = selector.PrioritySelector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		selector: sel,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string, credit float64, coursesInTopic int) (int64, error) {
	if err := validation.ValidateUser(login, password, credit, coursesInTopic); err != nil {
		return 0, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	return s.repo.CreateUser(ctx, login, hashed, credit, coursesInTopic)
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	id, hash, err := s.repo.GetCredentials(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	return id, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// CreateOffering создаёт новую конвокаторию.
func (s *Service) CreateOffering(ctx context.Context, description string, price float64, maxSeats int, closesAt *time.Time) (int64, error) {
	if err := validation.ValidateOffering(description, price, maxSeats); err != nil {
		return 0, err
	}
	return s.repo.CreateOffering(ctx, description, price, maxSeats, closesAt)
}

// GetOffering возвращает конвокаторию с заявками.
func (s *Service) GetOffering(ctx context.Context, offeringID int64) (*model.OfferingRecord, error) {
	return s.repo.GetOffering(ctx, offeringID)
}

// ListEnrollments возвращает заявки конвокатории.
func (s *Service) ListEnrollments(ctx context.Context, offeringID int64) ([]model.Enrollment, error) {
	return s.repo.GetEnrollments(ctx, offeringID)
}

// Enroll подаёт заявку пользователя на конвокаторию.
func (s *Service) Enroll(ctx context.Context, offeringID, userID int64) (int64, error) {
	id, err := s.repo.CreateEnrollment(ctx, offeringID, userID)
	if err != nil {
		metrics.RecordEnrollment("failed")
		return 0, err
	}
	metrics.RecordEnrollment("created")
	return id, nil
}

// PreviewSelection возвращает заявки, которые были бы допущены сейчас, без изменения данных.
func (s *Service) PreviewSelection(ctx context.Context, offeringID int64) ([]model.Enrollment, error) {
	o, err := s.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	return s.selector.Select(pending(o.Enrollments()), o.Price(), remainingSeats(o)), nil
}

// RunAdmission проводит приём: допускает отобранные заявки, отклоняет остальные и
// закрывает конвокаторию. Прерванный приём можно запустить повторно: уже допущенные
// заявки занимают свои места и повторно не оплачиваются.
func (s *Service) RunAdmission(ctx context.Context, offeringID int64) (*model.AdmissionResult, error) {
	started := s.now()

	if err := s.repo.BeginAdmission(ctx, offeringID); err != nil {
		return nil, err
	}

	o, err := s.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}

	result := &model.AdmissionResult{OfferingID: offeringID}
	for _, e := range o.Enrollments() {
		if statusOf(e) == model.EnrollmentStatusAdmitted {
			result.Admitted = append(result.Admitted, e)
		}
	}
	resumed := len(result.Admitted)

	candidates := pending(o.Enrollments())
	selected := s.selector.Select(candidates, o.Price(), remainingSeats(o))
	admittedIDs := make(map[int64]struct{}, len(selected))

admit:
	for _, e := range selected {
		err := s.repo.AdmitEnrollment(ctx, e.ID(), o.Price())
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrInsufficientCredit), errors.Is(err, repository.ErrEnrollmentNotPending):
			s.logger.Warn("enrollment skipped at admission",
				zap.Error(err), zap.Int64("offeringID", offeringID), zap.Int64("enrollmentID", e.ID()))
			continue
		case errors.Is(err, repository.ErrNoSeatsLeft):
			break admit
		default:
			return nil, fmt.Errorf("admit enrollment %d: %w", e.ID(), err)
		}

		// Отражаем списание на общем экземпляре пользователя.
		e.User().DeductCredit(o.Price())
		e.User().IncrementCourses()
		if rec, ok := e.(*model.EnrollmentRecord); ok {
			rec.Status = model.EnrollmentStatusAdmitted
		}

		admittedIDs[e.ID()] = struct{}{}
		result.Admitted = append(result.Admitted, e)
	}

	if err := s.repo.RejectPending(ctx, offeringID); err != nil {
		return nil, err
	}

	for _, e := range candidates {
		if _, ok := admittedIDs[e.ID()]; ok {
			continue
		}
		if rec, ok := e.(*model.EnrollmentRecord); ok {
			rec.Status = model.EnrollmentStatusRejected
		}
		result.Rejected = append(result.Rejected, e)
	}

	if err := s.repo.CompleteAdmission(ctx, offeringID); err != nil {
		return nil, err
	}

	if resumed > 0 {
		s.logger.Info("interrupted admission resumed",
			zap.Int64("offeringID", offeringID), zap.Int("alreadyAdmitted", resumed))
	}
	metrics.RecordAdmission(len(admittedIDs), len(result.Rejected), s.now().Sub(started))
	s.logger.Info("admission completed",
		zap.Int64("offeringID", offeringID),
		zap.Int("admitted", len(result.Admitted)),
		zap.Int("rejected", len(result.Rejected)))

	return result, nil
}

// statusOf возвращает статус заявки; заявки без сохранённого статуса считаются ожидающими.
func statusOf(e model.Enrollment) model.EnrollmentStatus {
	if rec, ok := e.(*model.EnrollmentRecord); ok {
		return rec.Status
	}
	return model.EnrollmentStatusPending
}

func pending(enrollments []model.Enrollment) []model.Enrollment {
	res := make([]model.Enrollment, 0, len(enrollments))
	for _, e := range enrollments {
		if statusOf(e) == model.EnrollmentStatusPending {
			res = append(res, e)
		}
	}
	return res
}

// remainingSeats возвращает число мест, не занятых уже допущенными заявками.
func remainingSeats(o model.Offering) int {
	seats := o.MaxSeats()
	for _, e := range o.Enrollments() {
		if statusOf(e) == model.EnrollmentStatusAdmitted {
			seats--
		}
	}
	return seats
}

// StartAdmissionScheduler запускает фоновый процесс проведения приёма по конвокаториям
// с истёкшим сроком подачи заявок и возобновления прерванного приёма.
func (s *Service) StartAdmissionScheduler(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processDueOfferings(ctx)
			}
		}
	}()
}

func (s *Service) processDueOfferings(ctx context.Context) {
	ids, err := s.repo.GetOfferingsDue(ctx, s.now(), dueBatchSize)
	if err != nil {
		s.logger.Error("select offerings due error", zap.Error(err))
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunAdmission(ctx, id); err != nil && !errors.Is(err, repository.ErrOfferingClosed) {
			// Конвокатория остаётся в статусе ADMITTING и будет обработана на следующем тике.
			s.logger.Error("scheduled admission error", zap.Error(err), zap.Int64("offeringID", id))
		}
	}
}
