package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"presence-service/internal/response"
)

// ContextUserID is the context key Auth stores the user id under
const ContextUserID = "user_id"

var (
	errMissingUserID = errors.New("user id not found in token")
)

// ParseToken validates an HS256 token and returns the user id it carries
func ParseToken(jwtSecret, tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}

	// Try "user_id" first, then "sub", then "uid"
	var userIDStr string
	if uid, ok := claims["user_id"].(string); ok {
		userIDStr = uid
	} else if sub, ok := claims["sub"].(string); ok {
		userIDStr = sub
	} else if uid, ok := claims["uid"].(string); ok {
		userIDStr = uid
	} else {
		return uuid.Nil, errMissingUserID
	}

	return uuid.Parse(userIDStr)
}

// Auth returns a middleware that validates JWT tokens locally.
// The token comes from "Authorization: Bearer <token>", or from the "token"
// query parameter for browser WebSocket upgrades which cannot set headers.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			response.SendError(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "Authorization header is required")
			c.Abort()
			return
		}

		userID, err := ParseToken(jwtSecret, tokenString)
		if err != nil {
			response.SendError(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, userID)

		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}

	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
