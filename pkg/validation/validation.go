package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// UsernameRegex validates username format
	UsernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

const (
	maxUsernameLength = 50
	maxPasswordLength = 72 // bcrypt ignores input past 72 bytes
)

// ValidateUsername validates a username for a new account
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters")
	}
	if len(username) > maxUsernameLength {
		return fmt.Errorf("username is too long (max %d characters)", maxUsernameLength)
	}
	if !UsernameRegex.MatchString(username) {
		return fmt.Errorf("username contains invalid characters (only letters, numbers, _, -, . allowed)")
	}
	return nil
}

// ValidatePassword validates a password for a new account
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("password is too long (max %d bytes)", maxPasswordLength)
	}
	return nil
}

// ValidateLoginForm checks the shape of a login request. Content rules are
// left to the credential check so every bad login fails the same way.
func ValidateLoginForm(username, password string) error {
	if err := ValidateNonEmptyString(username, "username"); err != nil {
		return err
	}
	if err := ValidateStringLength(username, 1, 256, "username"); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) > 1024 {
		return fmt.Errorf("password is too long")
	}
	return nil
}

// ValidateCameraURL validates an upstream MJPEG endpoint
func ValidateCameraURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
