package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/coachconnect/experiments-backend/internal/platform/ctxutil"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

const headerAdminKey = "X-Admin-Key"

// AuthMiddleware verifies caller identity. Evaluation routes accept any
// bearer token signed by the platform; the admin surface additionally
// demands the operations key.
type AuthMiddleware struct {
	log          *logger.Logger
	secret       []byte
	adminKeyHash string
}

func NewAuthMiddleware(baseLog *logger.Logger, jwtSecret, adminKeyHash string) *AuthMiddleware {
	return &AuthMiddleware{
		log:          baseLog.With("middleware", "AuthMiddleware"),
		secret:       []byte(jwtSecret),
		adminKeyHash: strings.TrimSpace(adminKeyHash),
	}
}

type accessClaims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		claims := &accessClaims{}
		tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			return am.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"message": "forbidden", "code": "forbidden"},
			})
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			TokenString: tokenString,
			UserID:      claims.Subject,
			SessionID:   claims.SessionID,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdminKey gates the registry admin surface on a shared operations
// key, checked against its bcrypt hash so the key itself never sits in the
// environment.
func (am *AuthMiddleware) RequireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.adminKeyHash == "" {
			am.log.Warn("admin key not configured, rejecting admin request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "admin access not configured", "code": "unauthorized"},
			})
			return
		}
		key := strings.TrimSpace(c.GetHeader(headerAdminKey))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing admin key", "code": "unauthorized"},
			})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(am.adminKeyHash), []byte(key)); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"message": "forbidden", "code": "forbidden"},
			})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
