// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fundingdesk/underwriting-backend/internal/i18n"
)

func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := "en"

		// Handle cases like "es-MX,es;q=0.9,en;q=0.8"
		if header := c.GetHeader("Accept-Language"); header != "" {
			first := strings.TrimSpace(strings.Split(strings.Split(header, ",")[0], ";")[0])
			first = strings.Split(first, "-")[0]
			for _, supported := range i18n.GetSupportedLanguages() {
				if first == supported {
					lang = supported
					break
				}
			}
		}

		c.Set("lang", lang)
		c.Next()
	}
}
