package utils

import (
	"encoding/base64"
	"encoding/json"

	"lokapasar/internal/domain/repository"
	"lokapasar/pkg/errors"
)

// EncodeMessageCursor renders a compound pagination cursor as an opaque
// URL-safe token.
func EncodeMessageCursor(cursor repository.MessageCursor) string {
	if cursor.IsZero() {
		return ""
	}
	raw, _ := json.Marshal(cursor)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeMessageCursor parses a token produced by EncodeMessageCursor. An
// empty token decodes to the zero cursor (newest page).
func DecodeMessageCursor(token string) (repository.MessageCursor, error) {
	if token == "" {
		return repository.MessageCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return repository.MessageCursor{}, errors.BadRequest("Invalid cursor", err)
	}
	var cursor repository.MessageCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return repository.MessageCursor{}, errors.BadRequest("Invalid cursor", err)
	}
	return cursor, nil
}
