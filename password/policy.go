package password

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrPolicyViolation is matched by every *PolicyError.
var ErrPolicyViolation = errors.New("password policy violation")

// Category identifies which policy stage rejected a password.
type Category string

const (
	CategoryEmpty      Category = "empty"
	CategoryLength     Category = "length"
	CategoryBreach     Category = "breach"
	CategoryWeak       Category = "weak"
	CategorySequential Category = "sequential"
	CategoryRepetitive Category = "repetitive"
)

// MinLength is the minimum trimmed length, counted in runes.
const MinLength = 8

const specialChars = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

var breachedPasswords = map[string]struct{}{
	"password123": {}, "qwerty123": {}, "123456789": {}, "abc123": {},
	"letmein": {}, "welcome": {}, "monkey": {}, "password": {},
	"12345678": {}, "dragon": {}, "football": {}, "baseball": {},
	"sunshine": {}, "princess": {}, "superman": {}, "trustno1": {},
	"iloveyou": {}, "welcome1": {}, "admin123": {}, "qwerty": {},
}

var sequentialPatterns = []string{
	"12345", "23456", "34567", "45678", "56789",
	"abcde", "bcdef", "cdefg", "defgh", "efghi",
	"qwert", "werty", "ertyu", "rtyui", "tyuio",
}

// PolicyError describes why a password was rejected. Reasons are
// human-readable and safe to show to the user.
type PolicyError struct {
	Category Category
	Reasons  []string
}

func (e *PolicyError) Error() string {
	return strings.Join(e.Reasons, "; ")
}

// Is reports true for ErrPolicyViolation.
func (e *PolicyError) Is(target error) bool {
	return target == ErrPolicyViolation
}

// Breached reports whether password is on the known-breached list
// (case-insensitive exact match).
func Breached(password string) bool {
	_, ok := breachedPasswords[strings.ToLower(password)]
	return ok
}

// Check runs the policy stages in order and returns the first failing stage
// as a *PolicyError, or nil when the password is acceptable.
func Check(password string) error {
	trimmed := strings.TrimSpace(password)
	if trimmed == "" {
		return &PolicyError{Category: CategoryEmpty, Reasons: []string{"Password cannot be empty"}}
	}
	if utf8.RuneCountInString(trimmed) < MinLength {
		return &PolicyError{Category: CategoryLength, Reasons: []string{"Password must be at least 8 characters long"}}
	}

	if Breached(password) {
		return &PolicyError{Category: CategoryBreach, Reasons: []string{"This password has been found in data breaches and is not secure"}}
	}

	if missing := missingClasses(password); len(missing) >= 2 {
		reasons := make([]string, 0, len(missing)+1)
		reasons = append(reasons, "Password is too weak")
		for _, m := range missing {
			reasons = append(reasons, "Password must contain at least one "+m)
		}
		return &PolicyError{Category: CategoryWeak, Reasons: reasons}
	}

	lower := strings.ToLower(password)
	for _, p := range sequentialPatterns {
		if strings.Contains(lower, p) {
			return &PolicyError{Category: CategorySequential, Reasons: []string{"Password contains sequential characters"}}
		}
	}

	if hasRun(password, 3) {
		return &PolicyError{Category: CategoryRepetitive, Reasons: []string{"Password contains repeated characters"}}
	}

	return nil
}

// IsSafe is Check in predicate form.
func IsSafe(password string) (bool, error) {
	if err := Check(password); err != nil {
		return false, err
	}
	return true, nil
}

func missingClasses(password string) []string {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}

	var missing []string
	if !lower {
		missing = append(missing, "lowercase letter")
	}
	if !upper {
		missing = append(missing, "uppercase letter")
	}
	if !digit {
		missing = append(missing, "number")
	}
	if !special {
		missing = append(missing, "special character")
	}
	return missing
}

func hasRun(s string, n int) bool {
	var prev rune
	count := 0
	for i, r := range s {
		if i > 0 && r == prev {
			count++
		} else {
			count = 1
		}
		if count >= n {
			return true
		}
		prev = r
	}
	return false
}
