package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"petrolink-system/internal/database/models"
	"petrolink-system/internal/utils"
)

const identityKey = "identity"

// Identity is the per-request authenticated principal attached by JWTAuth
// (or DevIdentity in non-production setups).
type Identity struct {
	UserID     int64
	EmployeeID string
	Role       models.UserRole
	StationID  *int64
}

func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing or malformed authorization header",
			})
			return
		}

		claims, err := utils.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "invalid or expired token",
			})
			return
		}

		c.Set(identityKey, Identity{
			UserID:     claims.UserID,
			EmployeeID: claims.EmployeeID,
			Role:       models.UserRole(claims.Role),
			StationID:  claims.StationID,
		})
		c.Next()
	}
}

// DevIdentity loads the configured employee on every request and attaches it
// as the authenticated identity. Wired in only when AUTH_DEV_EMPLOYEE_ID is
// set; requests fail when the user does not exist rather than falling back
// to a fabricated privileged identity.
func DevIdentity(db *gorm.DB, employeeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var user models.User
		if err := db.Where("employee_id = ? AND is_active = ?", employeeID, true).First(&user).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "dev identity user not found",
			})
			return
		}

		c.Set(identityKey, Identity{
			UserID:     user.ID,
			EmployeeID: user.EmployeeID,
			Role:       user.Role,
			StationID:  user.StationID,
		})
		c.Next()
	}
}

// WithIdentity attaches a fixed identity to every request. Test servers use
// it in place of JWTAuth.
func WithIdentity(ident Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, ident)
		c.Next()
	}
}

func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "authentication required",
			})
			return
		}

		for _, role := range roles {
			if ident.Role == role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "insufficient role",
		})
	}
}

func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	ident, ok := v.(Identity)
	return ident, ok
}
