package identity

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabrelay/internal/models"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Provider maps an incoming connection request to the user behind it.
type Provider interface {
	Identify(r *http.Request) models.Identity
}

// JWTProvider reads an HS256 token from the "token" query parameter (browser
// WebSocket clients cannot set an Authorization header). A missing or invalid
// token is not an error: the caller becomes an anonymous identity instead.
type JWTProvider struct {
	secret []byte
	log    *zap.Logger
}

func NewJWTProvider(secret []byte, log *zap.Logger) *JWTProvider {
	return &JWTProvider{secret: secret, log: log}
}

func (p *JWTProvider) Identify(r *http.Request) models.Identity {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		return Anonymous()
	}

	claims, err := p.verify(tokenStr)
	if err != nil {
		p.log.Debug("identity token rejected, falling back to anonymous", zap.Error(err))
		return Anonymous()
	}

	id := models.Identity{
		UserID:   stringClaim(claims, "sub"),
		Username: stringClaim(claims, "username"),
		Avatar:   stringClaim(claims, "avatar"),
	}
	if id.Username == "" {
		id.Username = Anonymous().Username
	}
	return id
}

func (p *JWTProvider) verify(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		// JWT numbers decode as float64
		return fmt.Sprintf("%d", int64(v))
	default:
		return ""
	}
}

// Anonymous returns a fresh anonymous identity with a short random suffix so
// two anonymous users in the same room stay distinguishable.
func Anonymous() models.Identity {
	return models.Identity{Username: "Anonymous-" + uuid.NewString()[:8]}
}
