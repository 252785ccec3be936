// Package model содержит доменные сущности сервиса приёма заявок.
package model

import "time"

// User представляет пользователя с кредитным балансом и историей курсов по тематике.
type User struct {
	id             int64
	login          string
	credit         float64
	coursesInTopic int
	registeredAt   time.Time
}

// NewUser создаёт пользователя с начальными значениями.
func NewUser(id int64, login string, credit float64, coursesInTopic int, registeredAt time.Time) *User {
	return &User{
		id:             id,
		login:          login,
		credit:         credit,
		coursesInTopic: coursesInTopic,
		registeredAt:   registeredAt,
	}
}

// ID возвращает идентификатор пользователя.
func (u *User) ID() int64 { return u.id }

// Login возвращает логин пользователя.
func (u *User) Login() string { return u.login }

// Credit возвращает текущий кредитный баланс.
func (u *User) Credit() float64 { return u.credit }

// CoursesInTopic возвращает число курсов, уже пройденных по тематике.
func (u *User) CoursesInTopic() int { return u.coursesInTopic }

// RegisteredAt возвращает дату регистрации пользователя.
func (u *User) RegisteredAt() time.Time { return u.registeredAt }

// DeductCredit уменьшает баланс на amount. Баланс может стать отрицательным.
func (u *User) DeductCredit(amount float64) {
	u.credit -= amount
}

// IncrementCourses увеличивает счётчик курсов по тематике на единицу.
func (u *User) IncrementCourses() {
	u.coursesInTopic++
}

// EnrollmentStatus описывает состояние заявки.
type EnrollmentStatus string

const (
	EnrollmentStatusPending  EnrollmentStatus = "PENDING"
	EnrollmentStatusAdmitted EnrollmentStatus = "ADMITTED"
	EnrollmentStatusRejected EnrollmentStatus = "REJECTED"
)

// Enrollment описывает заявку пользователя на участие в конвокатории.
type Enrollment interface {
	ID() int64
	User() *User
	Credit() float64
	CoursesInTopic() int
	RegisteredAt() time.Time
}

// EnrollmentRecord хранит снимок состояния пользователя на момент подачи заявки.
type EnrollmentRecord struct {
	id             int64
	user           *User
	credit         float64
	coursesInTopic int
	registeredAt   time.Time
	Status         EnrollmentStatus
	CreatedAt      time.Time
}

// NewEnrollment фиксирует текущее состояние пользователя в новой заявке.
func NewEnrollment(id int64, user *User) *EnrollmentRecord {
	return &EnrollmentRecord{
		id:             id,
		user:           user,
		credit:         user.Credit(),
		coursesInTopic: user.CoursesInTopic(),
		registeredAt:   user.RegisteredAt(),
		Status:         EnrollmentStatusPending,
	}
}

// RestoreEnrollment восстанавливает заявку из сохранённого снимка.
func RestoreEnrollment(id int64, user *User, credit float64, coursesInTopic int, registeredAt time.Time) *EnrollmentRecord {
	return &EnrollmentRecord{
		id:             id,
		user:           user,
		credit:         credit,
		coursesInTopic: coursesInTopic,
		registeredAt:   registeredAt,
		Status:         EnrollmentStatusPending,
	}
}

func (e *EnrollmentRecord) ID() int64               { return e.id }
func (e *EnrollmentRecord) User() *User             { return e.user }
func (e *EnrollmentRecord) Credit() float64         { return e.credit }
func (e *EnrollmentRecord) CoursesInTopic() int     { return e.coursesInTopic }
func (e *EnrollmentRecord) RegisteredAt() time.Time { return e.registeredAt }

// OfferingStatus описывает статус конвокатории.
type OfferingStatus string

const (
	OfferingStatusOpen      OfferingStatus = "OPEN"
	OfferingStatusAdmitting OfferingStatus = "ADMITTING"
	OfferingStatusClosed    OfferingStatus = "CLOSED"
)

// Offering описывает раунд приёма: цену места, число мест и список заявок.
type Offering interface {
	ID() int64
	Description() string
	Price() float64
	MaxSeats() int
	Enrollments() []Enrollment
}

// OfferingRecord хранит конвокаторию в том виде, в каком она лежит в БД.
type OfferingRecord struct {
	id          int64
	description string
	price       float64
	maxSeats    int
	enrollments []Enrollment
	Status      OfferingStatus
	ClosesAt    *time.Time
	CreatedAt   time.Time
}

// NewOffering создаёт конвокаторию с указанными параметрами.
func NewOffering(id int64, description string, price float64, maxSeats int, enrollments []Enrollment) *OfferingRecord {
	return &OfferingRecord{
		id:          id,
		description: description,
		price:       price,
		maxSeats:    maxSeats,
		enrollments: enrollments,
		Status:      OfferingStatusOpen,
	}
}

func (o *OfferingRecord) ID() int64           { return o.id }
func (o *OfferingRecord) Description() string { return o.description }
func (o *OfferingRecord) Price() float64      { return o.price }
func (o *OfferingRecord) MaxSeats() int       { return o.maxSeats }

// Enrollments возвращает заявки, поданные на конвокаторию.
func (o *OfferingRecord) Enrollments() []Enrollment { return o.enrollments }

// AdmissionResult содержит итог проведения приёма по конвокатории.
type AdmissionResult struct {
	OfferingID int64
	Admitted   []Enrollment
	Rejected   []Enrollment
}
