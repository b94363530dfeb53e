package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// CORSMiddleware returns middleware that answers preflight requests and sets CORS headers.
func CORSMiddleware() gin.HandlerFunc {
	policy := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", idempotencyHeader},
		ExposedHeaders:   []string{replayHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})

	return func(c *gin.Context) {
		passed := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})
		policy.Handler(next).ServeHTTP(c.Writer, c.Request)

		// Preflight requests are answered by the policy itself.
		if !passed {
			c.Abort()
		}
	}
}
