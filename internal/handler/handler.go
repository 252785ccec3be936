// Package handler содержит HTTP-обработчики API сервиса приёма заявок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/admissions-system/internal/middleware"
	"github.com/mmeshcher/admissions-system/internal/model"
	"github.com/mmeshcher/admissions-system/internal/repository"
	"github.com/mmeshcher/admissions-system/internal/service"
	"github.com/mmeshcher/admissions-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, credit float64, coursesInTopic int) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	CreateOffering(ctx context.Context, description string, price float64, maxSeats int, closesAt *time.Time) (int64, error)
	GetOffering(ctx context.Context, offeringID int64) (*model.OfferingRecord, error)
	Enroll(ctx context.Context, offeringID, userID int64) (int64, error)
	ListEnrollments(ctx context.Context, offeringID int64) ([]model.Enrollment, error)
	PreviewSelection(ctx context.Context, offeringID int64) ([]model.Enrollment, error)
	RunAdmission(ctx context.Context, offeringID int64) (*model.AdmissionResult, error)
}

// Handler реализует HTTP-обработчики API сервиса приёма заявок.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type registerRequest struct {
	Login          string  `json:"login"`
	Password       string  `json:"password"`
	Credit         float64 `json:"credit"`
	CoursesInTopic int     `json:"courses_in_topic"`
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type userResponse struct {
	ID             int64   `json:"id"`
	Login          string  `json:"login"`
	Credit         float64 `json:"credit"`
	CoursesInTopic int     `json:"courses_in_topic"`
	RegisteredAt   string  `json:"registered_at"`
}

type offeringRequest struct {
	Description string     `json:"description"`
	Price       float64    `json:"price"`
	MaxSeats    int        `json:"max_seats"`
	ClosesAt    *time.Time `json:"closes_at,omitempty"`
}

type enrollmentResponse struct {
	ID             int64   `json:"id"`
	UserID         int64   `json:"user_id"`
	Credit         float64 `json:"credit"`
	CoursesInTopic int     `json:"courses_in_topic"`
	RegisteredAt   string  `json:"registered_at"`
	Status         string  `json:"status,omitempty"`
}

type offeringResponse struct {
	ID          int64                `json:"id"`
	Description string               `json:"description"`
	Price       float64              `json:"price"`
	MaxSeats    int                  `json:"max_seats"`
	Status      string               `json:"status"`
	ClosesAt    string               `json:"closes_at,omitempty"`
	Enrollments []enrollmentResponse `json:"enrollments"`
}

type admissionResponse struct {
	OfferingID int64                `json:"offering_id"`
	Admitted   []enrollmentResponse `json:"admitted"`
	Rejected   []enrollmentResponse `json:"rejected"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Credit, req.CoursesInTopic)
	if err != nil {
		h.writeError(w, "register user error", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	h.writeJSON(w, http.StatusOK, idResponse{ID: userID})
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, "login user error", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// GetCurrentUser возвращает кредит и историю курсов текущего пользователя.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get user error", err, zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, userResponse{
		ID:             u.ID(),
		Login:          u.Login(),
		Credit:         u.Credit(),
		CoursesInTopic: u.CoursesInTopic(),
		RegisteredAt:   u.RegisteredAt().Format(time.RFC3339),
	})
}

// CreateOffering создаёт конвокаторию.
func (h *Handler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req offeringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateOffering(r.Context(), req.Description, req.Price, req.MaxSeats, req.ClosesAt)
	if err != nil {
		h.writeError(w, "create offering error", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// GetOffering возвращает конвокаторию со списком заявок.
func (h *Handler) GetOffering(w http.ResponseWriter, r *http.Request) {
	offeringID, ok := parseID(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOffering(r.Context(), offeringID)
	if err != nil {
		h.writeError(w, "get offering error", err, zap.Int64("offeringID", offeringID))
		return
	}

	resp := offeringResponse{
		ID:          o.ID(),
		Description: o.Description(),
		Price:       o.Price(),
		MaxSeats:    o.MaxSeats(),
		Status:      string(o.Status),
		Enrollments: toEnrollmentResponses(o.Enrollments()),
	}
	if o.ClosesAt != nil {
		resp.ClosesAt = o.ClosesAt.Format(time.RFC3339)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Enroll подаёт заявку текущего пользователя на конвокаторию.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	offeringID, ok := parseID(w, r)
	if !ok {
		return
	}

	id, err := h.service.Enroll(r.Context(), offeringID, userID)
	if err != nil {
		h.writeError(w, "enroll error", err, zap.Int64("offeringID", offeringID), zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ListEnrollments возвращает заявки конвокатории в порядке подачи.
func (h *Handler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	offeringID, ok := parseID(w, r)
	if !ok {
		return
	}

	enrollments, err := h.service.ListEnrollments(r.Context(), offeringID)
	if err != nil {
		h.writeError(w, "list enrollments error", err, zap.Int64("offeringID", offeringID))
		return
	}

	if len(enrollments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, toEnrollmentResponses(enrollments))
}

// PreviewSelection возвращает заявки, которые прошли бы отбор сейчас.
func (h *Handler) PreviewSelection(w http.ResponseWriter, r *http.Request) {
	offeringID, ok := parseID(w, r)
	if !ok {
		return
	}

	selected, err := h.service.PreviewSelection(r.Context(), offeringID)
	if err != nil {
		h.writeError(w, "preview selection error", err, zap.Int64("offeringID", offeringID))
		return
	}

	if len(selected) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, toEnrollmentResponses(selected))
}

// RunAdmission проводит приём по конвокатории.
func (h *Handler) RunAdmission(w http.ResponseWriter, r *http.Request) {
	offeringID, ok := parseID(w, r)
	if !ok {
		return
	}

	res, err := h.service.RunAdmission(r.Context(), offeringID)
	if err != nil {
		h.writeError(w, "run admission error", err, zap.Int64("offeringID", offeringID))
		return
	}

	h.writeJSON(w, http.StatusOK, admissionResponse{
		OfferingID: res.OfferingID,
		Admitted:   toEnrollmentResponses(res.Admitted),
		Rejected:   toEnrollmentResponses(res.Rejected),
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func toEnrollmentResponses(enrollments []model.Enrollment) []enrollmentResponse {
	resp := make([]enrollmentResponse, 0, len(enrollments))
	for _, e := range enrollments {
		er := enrollmentResponse{
			ID:             e.ID(),
			Credit:         e.Credit(),
			CoursesInTopic: e.CoursesInTopic(),
			RegisteredAt:   e.RegisteredAt().Format(time.RFC3339),
		}
		if u := e.User(); u != nil {
			er.UserID = u.ID()
		}
		if rec, ok := e.(*model.EnrollmentRecord); ok {
			er.Status = string(rec.Status)
		}
		resp = append(resp, er)
	}
	return resp
}

// statusFor сопоставляет доменные ошибки HTTP-статусам.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrOfferingNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrAlreadyEnrolled),
		errors.Is(err, repository.ErrOfferingClosed):
		return http.StatusConflict
	case errors.Is(err, validation.ErrInvalidCapacity),
		errors.Is(err, validation.ErrInvalidOffering),
		errors.Is(err, validation.ErrInvalidUser):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrRepositoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
