package validator

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidAddress  = errors.New("invalid wallet address")
	ErrInvalidGoalName = errors.New("invalid goal name")
)

var (
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	// Kenyan MSISDN in international format, e.g. 254712345678.
	phoneRegex   = regexp.MustCompile(`^254(1|7)\d{8}$`)
	addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

func ValidateWalletAddress(address string) error {
	if !addressRegex.MatchString(address) {
		return ErrInvalidAddress
	}
	return nil
}

func ValidateGoalName(name string) error {
	if len(name) == 0 || len(name) > 100 {
		return ErrInvalidGoalName
	}
	return nil
}
