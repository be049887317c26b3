package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kammounmedaziz/ekrini-app/pkg/response"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"

	// UserIDHeader is trusted only when AuthConfig.AllowUserIDHeader is set
	UserIDHeader = "X-User-ID"
	RoleHeader   = "X-User-Role"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is what the booking service needs from an access token
type Claims struct {
	UserID string
	Role   string
}

type AuthConfig struct {
	Secret string
	Issuer string
	// AllowUserIDHeader accepts X-User-ID without a token (local development)
	AllowUserIDHeader bool
}

// Auth validates an HS256 bearer token and stores user_id and role in the context
func Auth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" && cfg.AllowUserIDHeader {
			if userID := c.GetHeader(UserIDHeader); userID != "" {
				c.Set(ContextKeyUserID, userID)
				c.Set(ContextKeyRole, c.GetHeader(RoleHeader))
				c.Next()
				return
			}
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.Unauthorized(c, ErrMissingToken.Error())
			return
		}

		claims, err := ParseToken(token, cfg.Secret, cfg.Issuer)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// ParseToken validates tokenString and extracts its claims
func ParseToken(tokenString, secret, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, _ := mc["user_id"].(string)
	if userID == "" {
		userID, _ = mc["sub"].(string)
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}
	role, _ := mc["role"].(string)

	return &Claims{UserID: userID, Role: role}, nil
}

// RequireRole must run after Auth
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextKeyRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "insufficient permissions")
	}
}

// GetUserID returns the authenticated user ID
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}
