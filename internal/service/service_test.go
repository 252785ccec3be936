package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/admissions-system/internal/model"
	"github.com/mmeshcher/admissions-system/internal/repository"
	"github.com/mmeshcher/admissions-system/internal/selector"
	"github.com/mmeshcher/admissions-system/internal/validation"
)

type stubRepo struct {
	createUserID  int64
	createUserErr error

	credID   int64
	credHash []byte
	credErr  error

	offering    *model.OfferingRecord
	offeringErr error

	beginErr  error
	admitErrs map[int64]error
	rejectErr error

	enrollID  int64
	enrollErr error

	dueIDs []int64

	createdOfferings int
	admitted         []int64
	rejectCalls      int
	beginCalls       []int64
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, credit float64, coursesInTopic int) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetCredentials(ctx context.Context, login string) (int64, []byte, error) {
	return s.credID, s.credHash, s.credErr
}

func (s *stubRepo) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) CreateOffering(ctx context.Context, description string, price float64, maxSeats int, closesAt *time.Time) (int64, error) {
	s.createdOfferings++
	return 1, nil
}

func (s *stubRepo) GetOffering(ctx context.Context, offeringID int64) (*model.OfferingRecord, error) {
	return s.offering, s.offeringErr
}

func (s *stubRepo) GetEnrollments(ctx context.Context, offeringID int64) ([]model.Enrollment, error) {
	if s.offeringErr != nil {
		return nil, s.offeringErr
	}
	return s.offering.Enrollments(), nil
}

func (s *stubRepo) CreateEnrollment(ctx context.Context, offeringID, userID int64) (int64, error) {
	return s.enrollID, s.enrollErr
}

func (s *stubRepo) BeginAdmission(ctx context.Context, offeringID int64) error {
	s.beginCalls = append(s.beginCalls, offeringID)
	if s.beginErr != nil {
		return s.beginErr
	}
	if s.offering != nil {
		if s.offering.Status == model.OfferingStatusClosed {
			return repository.ErrOfferingClosed
		}
		s.offering.Status = model.OfferingStatusAdmitting
	}
	return nil
}

func (s *stubRepo) CompleteAdmission(ctx context.Context, offeringID int64) error {
	if s.offering != nil {
		s.offering.Status = model.OfferingStatusClosed
	}
	return nil
}

func (s *stubRepo) AdmitEnrollment(ctx context.Context, enrollmentID int64, price float64) error {
	if err := s.admitErrs[enrollmentID]; err != nil {
		return err
	}
	s.admitted = append(s.admitted, enrollmentID)
	return nil
}

func (s *stubRepo) RejectPending(ctx context.Context, offeringID int64) error {
	s.rejectCalls++
	return s.rejectErr
}

func (s *stubRepo) GetOfferingsDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.dueIDs, nil
}

func day(d int) time.Time {
	return time.Date(2024, 2, d, 0, 0, 0, 0, time.UTC)
}

func newOffering(price float64, seats int, users ...*model.User) *model.OfferingRecord {
	enrollments := make([]model.Enrollment, 0, len(users))
	for i, u := range users {
		enrollments = append(enrollments, model.NewEnrollment(int64(i+1), u))
	}
	return model.NewOffering(1, "Go basics", price, seats, enrollments)
}

func enrollmentIDs(es []model.Enrollment) []int64 {
	res := make([]int64, 0, len(es))
	for _, e := range es {
		res = append(res, e.ID())
	}
	return res
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{createUserErr: repository.ErrUserExists}
	svc := NewService(repo, nil, nil, 0)

	_, err := svc.RegisterUser(context.Background(), "login", "pass", 10, 0)
	assert.ErrorIs(t, err, repository.ErrUserExists)
}

func TestRegisterUser_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, 0)

	_, err := svc.RegisterUser(context.Background(), "login", "pass", -1, 0)
	assert.ErrorIs(t, err, validation.ErrInvalidUser)
}

func TestAuthenticateUser(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &stubRepo{credID: 9, credHash: hash}
	svc := NewService(repo, nil, nil, 0)

	id, err := svc.AuthenticateUser(context.Background(), "user", "correct")
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	_, err = svc.AuthenticateUser(context.Background(), "user", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	repo.credErr = repository.ErrUserNotFound
	_, err = svc.AuthenticateUser(context.Background(), "ghost", "correct")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateOffering_Validation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, 0)

	_, err := svc.CreateOffering(context.Background(), "Go basics", 20, -1, nil)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = svc.CreateOffering(context.Background(), "", 20, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidOffering)

	id, err := svc.CreateOffering(context.Background(), "Go basics", 20, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, repo.createdOfferings)
}

func TestPreviewSelection_NoSideEffects(t *testing.T) {
	poor := model.NewUser(1, "poor", 5, 0, day(1))
	rich := model.NewUser(2, "rich", 100, 0, day(2))
	repo := &stubRepo{offering: newOffering(20, 5, poor, rich)}
	svc := NewService(repo, selector.PrioritySelector{}, nil, 0)

	got, err := svc.PreviewSelection(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID())

	assert.Empty(t, repo.beginCalls)
	assert.Empty(t, repo.admitted)
	assert.Equal(t, 100.0, rich.Credit())
}

func TestPreviewSelection_ZeroSeats(t *testing.T) {
	u := model.NewUser(1, "u", 100, 0, day(1))
	repo := &stubRepo{offering: newOffering(20, 0, u)}
	svc := NewService(repo, nil, nil, 0)

	got, err := svc.PreviewSelection(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPreviewSelection_NotFound(t *testing.T) {
	repo := &stubRepo{offeringErr: repository.ErrOfferingNotFound}
	svc := NewService(repo, nil, nil, 0)

	_, err := svc.PreviewSelection(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrOfferingNotFound)
}

func TestRunAdmission_AppliesConsequences(t *testing.T) {
	a := model.NewUser(1, "a", 100, 3, day(1))
	b := model.NewUser(2, "b", 100, 0, day(2))
	c := model.NewUser(3, "c", 10, 0, day(1))
	repo := &stubRepo{offering: newOffering(30, 1, a, b, c)}
	svc := NewService(repo, selector.PrioritySelector{}, nil, 0)

	res, err := svc.RunAdmission(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, res.Admitted, 1)
	assert.Equal(t, int64(2), res.Admitted[0].ID())
	assert.Len(t, res.Rejected, 2)

	assert.Equal(t, []int64{1}, repo.beginCalls)
	assert.Equal(t, []int64{2}, repo.admitted)
	assert.Equal(t, 1, repo.rejectCalls)

	assert.Equal(t, 70.0, b.Credit())
	assert.Equal(t, 1, b.CoursesInTopic())
	assert.Equal(t, 100.0, a.Credit())

	rec := res.Admitted[0].(*model.EnrollmentRecord)
	assert.Equal(t, model.EnrollmentStatusAdmitted, rec.Status)
}

func TestRunAdmission_InsufficientCreditAtApply(t *testing.T) {
	a := model.NewUser(1, "a", 100, 0, day(1))
	b := model.NewUser(2, "b", 100, 0, day(2))
	repo := &stubRepo{
		offering:  newOffering(30, 2, a, b),
		admitErrs: map[int64]error{1: repository.ErrInsufficientCredit},
	}
	svc := NewService(repo, selector.RegistrationSelector{}, nil, 0)

	res, err := svc.RunAdmission(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, res.Admitted, 1)
	assert.Equal(t, int64(2), res.Admitted[0].ID())
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, int64(1), res.Rejected[0].ID())
	assert.Equal(t, 100.0, a.Credit())
}

func TestRunAdmission_AlreadyClosed(t *testing.T) {
	repo := &stubRepo{beginErr: repository.ErrOfferingClosed}
	svc := NewService(repo, nil, nil, 0)

	_, err := svc.RunAdmission(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrOfferingClosed)
	assert.Empty(t, repo.admitted)
}

func TestRunAdmission_RepositoryFailure(t *testing.T) {
	u := model.NewUser(1, "a", 100, 0, day(1))
	repo := &stubRepo{
		offering:  newOffering(30, 1, u),
		admitErrs: map[int64]error{1: repository.ErrRepositoryUnavailable},
	}
	svc := NewService(repo, nil, nil, 0)

	_, err := svc.RunAdmission(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrRepositoryUnavailable)
	assert.Equal(t, 0, repo.rejectCalls)
}

func TestRunAdmission_ResumesInterruptedRun(t *testing.T) {
	a := model.NewUser(1, "a", 100, 0, day(1))
	b := model.NewUser(2, "b", 100, 0, day(2))
	c := model.NewUser(3, "c", 100, 0, day(3))
	repo := &stubRepo{
		offering:  newOffering(30, 2, a, b, c),
		admitErrs: map[int64]error{2: repository.ErrRepositoryUnavailable},
	}
	svc := NewService(repo, selector.RegistrationSelector{}, nil, 0)

	_, err := svc.RunAdmission(context.Background(), 1)
	require.ErrorIs(t, err, repository.ErrRepositoryUnavailable)
	assert.Equal(t, model.OfferingStatusAdmitting, repo.offering.Status)
	assert.Equal(t, []int64{1}, repo.admitted)
	assert.Equal(t, 0, repo.rejectCalls)

	repo.admitErrs = nil
	res, err := svc.RunAdmission(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, repo.admitted)
	assert.ElementsMatch(t, []int64{1, 2}, enrollmentIDs(res.Admitted))
	assert.Equal(t, []int64{3}, enrollmentIDs(res.Rejected))
	assert.Equal(t, model.OfferingStatusClosed, repo.offering.Status)

	assert.Equal(t, 70.0, a.Credit())
	assert.Equal(t, 1, a.CoursesInTopic())
	assert.Equal(t, 70.0, b.Credit())
	assert.Equal(t, 100.0, c.Credit())

	_, err = svc.RunAdmission(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrOfferingClosed)
}

func TestRunAdmission_NoSeatsLeftStopsAdmitting(t *testing.T) {
	a := model.NewUser(1, "a", 100, 0, day(1))
	b := model.NewUser(2, "b", 100, 0, day(2))
	repo := &stubRepo{
		offering:  newOffering(30, 2, a, b),
		admitErrs: map[int64]error{2: repository.ErrNoSeatsLeft},
	}
	svc := NewService(repo, selector.RegistrationSelector{}, nil, 0)

	res, err := svc.RunAdmission(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, enrollmentIDs(res.Admitted))
	assert.Equal(t, []int64{2}, enrollmentIDs(res.Rejected))
	assert.Equal(t, 100.0, b.Credit())
}

func TestPreviewSelection_CountsAdmittedSeats(t *testing.T) {
	a := model.NewUser(1, "a", 100, 0, day(1))
	b := model.NewUser(2, "b", 100, 0, day(2))
	c := model.NewUser(3, "c", 100, 0, day(3))
	o := newOffering(30, 2, a, b, c)
	o.Enrollments()[0].(*model.EnrollmentRecord).Status = model.EnrollmentStatusAdmitted
	repo := &stubRepo{offering: o}
	svc := NewService(repo, selector.RegistrationSelector{}, nil, 0)

	got, err := svc.PreviewSelection(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, enrollmentIDs(got))
}

func TestRunAdmission_EmptyOffering(t *testing.T) {
	repo := &stubRepo{offering: newOffering(30, 3)}
	svc := NewService(repo, nil, nil, 0)

	res, err := svc.RunAdmission(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, res.Admitted)
	assert.Empty(t, res.Rejected)
}

func TestEnroll_PropagatesErrors(t *testing.T) {
	repo := &stubRepo{enrollErr: repository.ErrAlreadyEnrolled}
	svc := NewService(repo, nil, nil, 0)

	_, err := svc.Enroll(context.Background(), 1, 1)
	assert.True(t, errors.Is(err, repository.ErrAlreadyEnrolled))

	repo.enrollErr = nil
	repo.enrollID = 15
	id, err := svc.Enroll(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(15), id)
}

func TestListEnrollments_SharesUser(t *testing.T) {
	u := model.NewUser(1, "a", 100, 0, day(1))
	repo := &stubRepo{offering: newOffering(30, 2, u, u)}
	svc := NewService(repo, nil, nil, 0)

	got, err := svc.ListEnrollments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Same(t, got[0].User(), got[1].User())

	repo.offeringErr = repository.ErrOfferingNotFound
	_, err = svc.ListEnrollments(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrOfferingNotFound)
}

func TestProcessDueOfferings(t *testing.T) {
	u := model.NewUser(1, "a", 100, 0, day(1))
	repo := &stubRepo{
		offering: newOffering(30, 1, u),
		dueIDs:   []int64{1, 2},
	}
	svc := NewService(repo, nil, nil, time.Second)

	svc.processDueOfferings(context.Background())

	assert.Equal(t, []int64{1, 2}, repo.beginCalls)
}

func TestStartAdmissionScheduler_Disabled(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartAdmissionScheduler(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartAdmissionScheduler did not return when disabled")
	}
}
