package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"nextcompete-api/config"
	"nextcompete-api/models"
	"nextcompete-api/services"
	"nextcompete-api/utils"
)

const principalKey = "principal"

// Claims are issued by the identity provider.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	RoleID int    `json:"role_id"`
	jwt.RegisteredClaims
}

// UserSyncer mirrors the caller into the local users table.
type UserSyncer func(ctx context.Context, p services.Principal) error

// AuthMiddleware validates the bearer token and stores the caller's Principal on the context.
// sync may be nil.
func AuthMiddleware(secret string, sync UserSyncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || claims.UserID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}
		if claims.RoleID < models.RoleParticipant || claims.RoleID > models.RoleAdmin {
			claims.RoleID = models.RoleParticipant
		}
		email := claims.Email
		if email != "" && !utils.ValidateEmail(email) {
			email = ""
		}

		p := services.Principal{
			UserID: claims.UserID,
			Email:  email,
			Name:   utils.SanitizeInput(claims.Name),
			RoleID: claims.RoleID,
		}
		if sync != nil {
			if err := sync(c.Request.Context(), p); err != nil {
				config.Log.WithError(err).WithField("user_id", p.UserID).Error("user sync failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Could not load user"})
				return
			}
		}

		c.Set(principalKey, p)
		c.Set("userID", p.UserID)
		c.Set("roleID", p.RoleID)
		c.Next()
	}
}

// CurrentPrincipal returns the caller set by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (services.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return services.Principal{}, false
	}
	p, ok := v.(services.Principal)
	return p, ok
}

// RequireRole checks if user has specific role
func RequireRole(roleIDs ...int) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		for _, roleID := range roleIDs {
			if p.RoleID == roleID {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}
