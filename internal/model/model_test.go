package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_DeductAndIncrement(t *testing.T) {
	registered := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	u := NewUser(7, "ana", 100.0, 2, registered)

	u.DeductCredit(30.0)
	assert.Equal(t, 70.0, u.Credit())

	u.IncrementCourses()
	assert.Equal(t, 3, u.CoursesInTopic())

	assert.Equal(t, int64(7), u.ID())
	assert.Equal(t, registered, u.RegisteredAt())
}

func TestUser_DeductCreditAllowsNegative(t *testing.T) {
	tests := []struct {
		name   string
		credit float64
		amount float64
		want   float64
	}{
		{name: "exact", credit: 10, amount: 10, want: 0},
		{name: "below zero", credit: 10, amount: 25, want: -15},
		{name: "negative amount", credit: 10, amount: -5, want: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewUser(1, "u", tt.credit, 0, time.Now())
			u.DeductCredit(tt.amount)
			assert.Equal(t, tt.want, u.Credit())
		})
	}
}

func TestUser_AccessorsArePure(t *testing.T) {
	u := NewUser(3, "u", 42.5, 4, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		assert.Equal(t, 42.5, u.Credit())
		assert.Equal(t, 4, u.CoursesInTopic())
		assert.Equal(t, int64(3), u.ID())
	}
}

func TestNewEnrollment_Snapshot(t *testing.T) {
	u := NewUser(1, "u", 50, 1, time.Date(2022, 5, 5, 0, 0, 0, 0, time.UTC))
	e := NewEnrollment(10, u)

	u.DeductCredit(20)
	u.IncrementCourses()

	assert.Equal(t, 50.0, e.Credit(), "snapshot must not follow user mutations")
	assert.Equal(t, 1, e.CoursesInTopic())
	assert.Same(t, u, e.User())
	assert.Equal(t, 30.0, e.User().Credit())
	assert.Equal(t, EnrollmentStatusPending, e.Status)
}

func TestOfferingRecord_ImplementsOffering(t *testing.T) {
	u := NewUser(1, "u", 50, 1, time.Now())
	var o Offering = NewOffering(5, "Go basics", 25, 2, []Enrollment{NewEnrollment(1, u)})

	assert.Equal(t, int64(5), o.ID())
	assert.Equal(t, "Go basics", o.Description())
	assert.Equal(t, 25.0, o.Price())
	assert.Equal(t, 2, o.MaxSeats())
	assert.Len(t, o.Enrollments(), 1)
}
