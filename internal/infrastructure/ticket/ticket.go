package ticket

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lokapasar/pkg/errors"
)

// Issuer mints short-lived tickets that authorize a websocket upgrade.
// Browsers cannot attach an Authorization header to a websocket handshake,
// so the client trades its Firebase token for a ticket over REST and
// presents the ticket as a query parameter.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

type claims struct {
	jwt.RegisteredClaims
}

// Issue returns a signed ticket for the user.
func (i *Issuer) Issue(userID string) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", errors.Internal("Failed to sign ticket", err)
	}
	return signed, nil
}

// Verify checks the ticket signature and expiry and returns the user ID.
func (i *Issuer) Verify(ticket string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(ticket, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("Unexpected signing method", nil)
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil || !token.Valid {
		return "", errors.Unauthorized("Invalid or expired ticket", err)
	}
	if c.Subject == "" {
		return "", errors.Unauthorized("Ticket missing subject", nil)
	}
	return c.Subject, nil
}
