package validator

import (
	"errors"
	"net/url"
	"strings"
)

// ValidateWebhookURL accepts only absolute http(s) URLs with a host.
// Reachability is not checked here; a dead endpoint just accumulates
// delivery failures.
func ValidateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https")
	}

	if u.Host == "" {
		return errors.New("url must include a host")
	}

	return nil
}

func IsValidEmail(email string) error {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return errors.New("invalid email format")
	}

	if !strings.Contains(parts[1], ".") {
		return errors.New("invalid email domain")
	}

	return nil
}
