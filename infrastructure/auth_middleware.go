package infrastructure

import (
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	contextMemberID     = "member_id"
	webhookSecretHeader = "X-Webhook-Secret"
)

// Claims is issued by the identity service. UserID is the member id encoded
// as a JSON string.
type Claims struct {
	Username string       `json:"username"`
	UserID   snowflake.ID `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware accepts "Authorization: Bearer <HS256 token>" and stores the
// member id on the context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid || claims.UserID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextMemberID, claims.UserID)
		c.Next()
	}
}

// WebhookAuthMiddleware checks the shared secret the worker fleet sends with
// every callback. An unset secret rejects everything.
func WebhookAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(webhookSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func memberID(c *gin.Context) snowflake.ID {
	return c.MustGet(contextMemberID).(snowflake.ID)
}
