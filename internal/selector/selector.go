// Package selector реализует правила отбора заявок на конвокаторию.
package selector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mmeshcher/admissions-system/internal/model"
)

// ErrUnknownPolicy возвращается при запросе неизвестной политики отбора.
var ErrUnknownPolicy = errors.New("unknown selection policy")

const (
	// PolicyPriority отдаёт места тем, у кого меньше курсов по тематике.
	PolicyPriority = "priority"
	// PolicyRegistration отдаёт места в порядке даты регистрации.
	PolicyRegistration = "registration"
)

// Selector выбирает допущенные заявки. Реализации не изменяют входные данные
// и возвращают не больше maxSeats заявок.
type Selector interface {
	Select(enrollments []model.Enrollment, costPerCourse float64, maxSeats int) []model.Enrollment
}

// New возвращает селектор для указанной политики.
func New(policy string) (Selector, error) {
	switch policy {
	case "", PolicyPriority:
		return PrioritySelector{}, nil
	case PolicyRegistration:
		return RegistrationSelector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}

// PrioritySelector ранжирует по числу курсов по тематике, затем по дате регистрации.
type PrioritySelector struct{}

// Select реализует Selector.
func (PrioritySelector) Select(enrollments []model.Enrollment, costPerCourse float64, maxSeats int) []model.Enrollment {
	return pick(enrollments, costPerCourse, maxSeats, func(a, b model.Enrollment) bool {
		if a.CoursesInTopic() != b.CoursesInTopic() {
			return a.CoursesInTopic() < b.CoursesInTopic()
		}
		return earlier(a, b)
	})
}

// RegistrationSelector ранжирует по дате регистрации пользователя.
type RegistrationSelector struct{}

// Select реализует Selector.
func (RegistrationSelector) Select(enrollments []model.Enrollment, costPerCourse float64, maxSeats int) []model.Enrollment {
	return pick(enrollments, costPerCourse, maxSeats, earlier)
}

func earlier(a, b model.Enrollment) bool {
	if !a.RegisteredAt().Equal(b.RegisteredAt()) {
		return a.RegisteredAt().Before(b.RegisteredAt())
	}
	return a.ID() < b.ID()
}

// pick отбрасывает заявки без достаточного кредита, сортирует копию и обрезает по числу мест.
func pick(enrollments []model.Enrollment, costPerCourse float64, maxSeats int, less func(a, b model.Enrollment) bool) []model.Enrollment {
	if maxSeats <= 0 || len(enrollments) == 0 {
		return []model.Enrollment{}
	}

	eligible := make([]model.Enrollment, 0, len(enrollments))
	for _, e := range enrollments {
		if e == nil || e.Credit() < costPerCourse {
			continue
		}
		eligible = append(eligible, e)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return less(eligible[i], eligible[j])
	})

	if len(eligible) > maxSeats {
		eligible = eligible[:maxSeats]
	}

	return eligible
}
