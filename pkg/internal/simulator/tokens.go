package simulator

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/auth"
	"github.com/spf13/viper"

	"github.com/tutorlink/calling/pkg/internal/models"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
	}
}

func NewTokenIssuerFromConfig() *TokenIssuer {
	return NewTokenIssuer(viper.GetString("security.jwt_secret"))
}

// IssuePair mints the access/refresh token pair the client authenticates
// with. The refresh token only ever buys a new pair, never API access.
func (t *TokenIssuer) IssuePair(account models.Account) (string, string, error) {
	access, err := t.issue(account, tokenTypeAccess, t.accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err := t.issue(account, tokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (t *TokenIssuer) issue(account models.Account, typ string, ttl time.Duration) (string, error) {
	tk := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  account.ID,
		"name": account.Name,
		"role": string(account.Role),
		"typ":  typ,
		"exp":  time.Now().Add(ttl).Unix(),
	})
	return tk.SignedString(t.secret)
}

// Verify parses a token and returns the subject when the token is valid
// and of the expected type.
func (t *TokenIssuer) Verify(token, expectedType string) (string, error) {
	parsed, err := jwt.Parse(token, func(tk *jwt.Token) (any, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if typ, _ := claims["typ"].(string); typ != expectedType {
		return "", fmt.Errorf("unexpected token type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// EncodeRoomToken grants the account entry to the conference room of its
// call. Students and teachers get the same grant; there is no room admin
// in a one-on-one lesson.
func EncodeRoomToken(account models.Account, roomName string) (string, error) {
	grant := &auth.VideoGrant{
		Room:     roomName,
		RoomJoin: true,
	}

	duration := time.Second * time.Duration(viper.GetInt("calling.token_duration"))
	if duration <= 0 {
		duration = 4 * time.Hour
	}

	tk := auth.NewAccessToken(viper.GetString("calling.api_key"), viper.GetString("calling.api_secret"))
	tk.AddGrant(grant).
		SetIdentity(account.ID).
		SetName(account.Name).
		SetValidFor(duration)

	return tk.ToJWT()
}
