package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/pkg/response"
)

// ContextPrincipal is the key for the authenticated auth.Principal in gin context.
const ContextPrincipal = "principal"

// JWT returns a middleware that validates a bearer token and sets the principal in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextPrincipal, auth.PrincipalFromClaims(claims))
		c.Next()
	}
}

// Principal returns the principal set by JWT, or the zero value.
func Principal(c *gin.Context) auth.Principal {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return auth.Principal{}
	}
	p, _ := v.(auth.Principal)
	return p
}
