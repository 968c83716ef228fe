package utils

import (
	"strings"
	"unicode/utf8"
)

// MaxFingerprintLength matches the width of user_tokens.device_info.
const MaxFingerprintLength = 100

const unknownDevice = "unknown"

// DeviceFingerprint derives the per-device key for refresh token storage
// from a User-Agent header.
func DeviceFingerprint(userAgent string) string {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return unknownDevice
	}

	if utf8.RuneCountInString(ua) <= MaxFingerprintLength {
		return ua
	}

	runes := []rune(ua)
	return string(runes[:MaxFingerprintLength])
}
