package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid feed token")

const (
	feedIssuer   = "alwaysplan"
	feedAudience = "calendar-feed"
)

// FeedClaims grant read-only access to one user's calendar feed. TokenHash
// pins the claims to the API token current at issue time, so rotating the
// API token revokes every feed URL issued before.
type FeedClaims struct {
	TokenHash string `json:"th"`
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c *FeedClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Matches reports whether the claims were issued for apiToken.
func (c *FeedClaims) Matches(apiToken string) bool {
	return subtle.ConstantTimeCompare([]byte(c.TokenHash), []byte(TokenHash(apiToken))) == 1
}

// TokenHash is a short, non-reversible fingerprint of an API token.
func TokenHash(apiToken string) string {
	sum := sha256.Sum256([]byte(apiToken))
	return hex.EncodeToString(sum[:8])
}

// FeedSigner issues and verifies HS256 feed tokens.
type FeedSigner struct {
	key []byte
}

func NewFeedSigner(secret string) (*FeedSigner, error) {
	if secret == "" {
		return nil, errors.New("feed signer: empty secret")
	}
	// Keep the HMAC key distinct from the passphrase used for sealing.
	key := sha256.Sum256([]byte("alwaysplan feed token\x00" + secret))
	return &FeedSigner{key: key[:]}, nil
}

// Issue signs a feed token for the user holding apiToken. Feed tokens do not
// expire; calendar clients poll the same URL indefinitely.
func (s *FeedSigner) Issue(userID int64, apiToken string, now time.Time) (string, error) {
	claims := FeedClaims{
		TokenHash: TokenHash(apiToken),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   feedIssuer,
			Subject:  strconv.FormatInt(userID, 10),
			Audience: jwt.ClaimStrings{feedAudience},
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign feed token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and audience of a feed token.
func (s *FeedSigner) Verify(token string) (*FeedClaims, error) {
	claims := &FeedClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(feedIssuer),
		jwt.WithAudience(feedAudience),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
