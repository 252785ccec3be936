// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

var (
	// ErrInvalidCapacity возвращается при отрицательном числе мест.
	ErrInvalidCapacity = errors.New("invalid capacity")
	// ErrInvalidOffering возвращается при некорректных параметрах конвокатории.
	ErrInvalidOffering = errors.New("invalid offering")
	// ErrInvalidUser возвращается при некорректных регистрационных данных.
	ErrInvalidUser = errors.New("invalid user")
)

const (
	maxDescriptionLen = 500

	// MaxAmount ограничивает цену и кредит: суммы хранятся в копейках в BIGINT,
	// а значение в копейках должно точно представляться в float64.
	MaxAmount = 1e13

	centsTolerance = 1e-6
)

// ValidateOffering проверяет параметры новой конвокатории.
func ValidateOffering(description string, price float64, maxSeats int) error {
	if maxSeats < 0 {
		return fmt.Errorf("%w: max seats %d", ErrInvalidCapacity, maxSeats)
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Errorf("%w: empty description", ErrInvalidOffering)
	}
	if len(description) > maxDescriptionLen {
		return fmt.Errorf("%w: description too long", ErrInvalidOffering)
	}

	if !IsValidAmount(price) {
		return fmt.Errorf("%w: price %v", ErrInvalidOffering, price)
	}

	return nil
}

// ValidateUser проверяет регистрационные данные пользователя.
func ValidateUser(login, password string, credit float64, coursesInTopic int) error {
	if !IsValidLogin(login) {
		return fmt.Errorf("%w: login %q", ErrInvalidUser, login)
	}
	if password == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidUser)
	}
	if !IsValidAmount(credit) {
		return fmt.Errorf("%w: credit %v", ErrInvalidUser, credit)
	}
	if coursesInTopic < 0 {
		return fmt.Errorf("%w: courses in topic %d", ErrInvalidUser, coursesInTopic)
	}
	return nil
}

// IsValidAmount проверяет, что сумма конечна, неотрицательна, не превышает MaxAmount
// и содержит не больше двух знаков после запятой.
func IsValidAmount(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > MaxAmount {
		return false
	}

	cents := v * 100
	return math.Abs(cents-math.Round(cents)) <= centsTolerance
}

// IsValidLogin проверяет, что логин непустой и состоит из букв, цифр, '.', '_' или '-'.
func IsValidLogin(login string) bool {
	if login == "" || len(login) > 64 {
		return false
	}

	for _, ch := range login {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '.' || ch == '_' || ch == '-' {
			continue
		}
		return false
	}

	return true
}
