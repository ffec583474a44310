package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards routes that expose stored intakes. Requests must carry
// "Authorization: Bearer <token>" where token matches the bcrypt hash.
// An empty hash disables the check.
func AdminAuth(tokenHash string, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, intake admin routes are unprotected")
		return func(c *gin.Context) { c.Next() }
	}
	hash := []byte(tokenHash)

	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortUnauthorized(c, "Missing bearer token")
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			logger.Warn("Rejected admin token", "path", c.FullPath(), "client_ip", c.ClientIP())
			abortUnauthorized(c, "Invalid admin token")
			return
		}
		c.Next()
	}
}

// adminKey is the gin context key AdminIdentify sets
const adminKey = "admin"

// AdminIdentify marks requests carrying a valid admin token without
// rejecting the others. An empty hash marks every request, matching AdminAuth.
func AdminIdentify(tokenHash string) gin.HandlerFunc {
	hash := []byte(tokenHash)
	return func(c *gin.Context) {
		if len(hash) == 0 {
			c.Set(adminKey, true)
			c.Next()
			return
		}
		if token := bearerToken(c.GetHeader("Authorization")); token != "" &&
			bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
			c.Set(adminKey, true)
		}
		c.Next()
	}
}

// IsAdmin reports whether AdminIdentify accepted the request
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(adminKey)
}

// HashToken returns the bcrypt hash to store in ADMIN_TOKEN_HASH
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
