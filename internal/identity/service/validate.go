package service

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	minPasswordLen = 8
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLen = 72
	maxNameLen     = 100
	maxPhoneLen    = 32
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return invalidInput("email is required")
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return invalidInput("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return invalidInput("password must be at least 8 characters")
	}
	if len(password) > maxPasswordLen {
		return invalidInput("password must be at most 72 bytes")
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return invalidInput("password must contain a letter and a digit")
	}
	return nil
}

func validateProfile(firstName, lastName, phone string) error {
	if len(firstName) > maxNameLen || len(lastName) > maxNameLen {
		return invalidInput("name is too long")
	}
	if len(phone) > maxPhoneLen {
		return invalidInput("phone is too long")
	}
	for _, r := range phone {
		if !unicode.IsDigit(r) && !strings.ContainsRune("+-() ", r) {
			return invalidInput("invalid phone format")
		}
	}
	return nil
}
