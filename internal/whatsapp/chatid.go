package whatsapp

import (
	"fmt"
	"strings"
)

const (
	// ChatIDSuffix is the server part of ScreenPipe's canonical sender identity.
	ChatIDSuffix = "c.us"
	// MinPhoneDigits is the shortest accepted phone number.
	MinPhoneDigits = 6
)

// phoneSeparators may appear in a formatted number and are discarded.
const phoneSeparators = "+ -().\t"

// PhoneDigits extracts the phone number digits from a chat id, JID, Twilio
// address ("whatsapp:+91...") or formatted number.
func PhoneDigits(id string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(id), "whatsapp:")
	if user, _, found := strings.Cut(raw, "@"); found {
		raw = user
	}
	if raw == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	digits := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
			continue
		}
		if strings.IndexByte(phoneSeparators, c) < 0 {
			return "", fmt.Errorf("invalid phone number %q", raw)
		}
	}
	if len(digits) < MinPhoneDigits {
		return "", fmt.Errorf("phone number %q has fewer than %d digits", raw, MinPhoneDigits)
	}
	return string(digits), nil
}

// ChatID returns the canonical sender identity "<digits>@c.us".
func ChatID(id string) (string, error) {
	digits, err := PhoneDigits(id)
	if err != nil {
		return "", err
	}
	return digits + "@" + ChatIDSuffix, nil
}
