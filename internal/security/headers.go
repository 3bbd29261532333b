// Package security provides security middleware for the checkout service.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// adyenWebOrigins are the hosts the drop-in loads scripts, styles, frames
// (3DS2 challenge) and API calls from.
var adyenWebOrigins = []string{
	"https://checkoutshopper-test.adyen.com",
	"https://checkoutshopper-live.adyen.com",
	"https://*.adyen.com",
	"https://*.adyenpayments.com",
}

// ContentSecurityPolicy returns the CSP that lets the Adyen drop-in run.
func ContentSecurityPolicy() string {
	src := strings.Join(adyenWebOrigins, " ")
	return "default-src 'self'; " +
		"script-src 'self' " + src + "; " +
		"style-src 'self' 'unsafe-inline' " + src + "; " +
		"img-src 'self' data: " + src + "; " +
		"connect-src 'self' " + src + "; " +
		"frame-src 'self' " + src + "; " +
		"frame-ancestors 'none'"
}

// HeadersMiddleware adds security headers to all responses
func HeadersMiddleware() gin.HandlerFunc {
	csp := ContentSecurityPolicy()
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")

		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", csp)

		// payment handler API is used by some wallets in the drop-in
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(self)")

		c.Next()
	}
}

// CORSMiddleware handles CORS for API endpoints. An empty list allows any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool)
	for _, o := range allowedOrigins {
		originsMap[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if len(allowedOrigins) == 0 || originsMap[origin] || originsMap["*"] {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Shopper-Reference")
			c.Header("Access-Control-Max-Age", "86400")
		}

		// Handle preflight
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
