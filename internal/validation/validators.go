// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package validation

import (
	"net"
	"regexp"
	"strings"

	"grimm.is/doorman/internal/errors"
)

var (
	// Valid channel name: alphanumeric, dash, underscore. Channel names
	// become table name suffixes and key prefixes, so the character set
	// is deliberately narrow.
	channelRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Dangerous characters that should never appear in identifiers
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}
)

// ValidateIP validates an IP address, v4 or v6. The textual form is kept
// as given by the caller; records are keyed by the exact input string.
func ValidateIP(s string) error {
	if s == "" {
		return errors.New(errors.KindValidation, "IP cannot be empty")
	}
	if net.ParseIP(s) == nil {
		return errors.Errorf(errors.KindValidation, "invalid IP address: %s", s)
	}
	return nil
}

// ValidateIPOrCIDR validates an IP address or CIDR range.
func ValidateIPOrCIDR(s string) error {
	if s == "" {
		return errors.New(errors.KindValidation, "IP/CIDR cannot be empty")
	}

	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "invalid CIDR")
		}
		return nil
	}

	return ValidateIP(s)
}

// ValidateChannel validates a channel (namespace) name.
func ValidateChannel(name string) error {
	if name == "" {
		return errors.New(errors.KindValidation, "channel name cannot be empty")
	}

	if len(name) > 64 {
		return errors.Errorf(errors.KindValidation, "channel name too long (max 64 characters): %s", name)
	}

	if !channelRegex.MatchString(name) {
		return errors.Errorf(errors.KindValidation, "invalid channel name: %s (must be alphanumeric with -_)", name)
	}

	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return errors.Errorf(errors.KindValidation, "channel name contains dangerous character: %s", char)
		}
	}

	return nil
}

// SanitizeString removes dangerous characters from a string (for display purposes)
func SanitizeString(s string) string {
	for _, char := range dangerousChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
