package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// TripAttributes annotates the New Relic transaction started by nrgin with the
// trip and user a request touches, and reports handler errors on it.
func TripAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if tripID := c.Param("id"); tripID != "" {
			txn.AddAttribute("trip_id", tripID)
		}
		if userID := c.Param("userId"); userID != "" {
			txn.AddAttribute("user_id", userID)
		} else if userID := c.Query("user_id"); userID != "" {
			txn.AddAttribute("user_id", userID)
		}

		c.Next()

		// Record error if present.
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
