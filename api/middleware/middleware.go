/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/ingest/config"
)

// KeyHeader carries the admin secret.
const KeyHeader = "X-Ingest-Key"

const defaultLimiterTTL = time.Hour

// RateLimit throttles each client address to the configured rate. It lets everything through
// unless both the rate and the burst are set.
func RateLimit(rl config.RateLimitConfig) gin.HandlerFunc {
	if rl.RequestsPerSecond == nil || rl.Burst == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := defaultLimiterTTL
	if rl.CleanupIntervalSec != nil && *rl.CleanupIntervalSec > 0 {
		ttl = time.Duration(*rl.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*rl.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetBurst(*rl.Burst)
	lmt.SetMessage("too many admin requests, slow down")

	return func(c *gin.Context) {
		if limited := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); limited != nil {
			c.AbortWithStatusJSON(limited.StatusCode, gin.H{"error": limited.Message})
			return
		}
		c.Next()
	}
}

// SecretKey requires KeyHeader to equal secret on every path except the open ones.
// An empty secret fails closed.
func SecretKey(secret string, open ...string) gin.HandlerFunc {
	public := make(map[string]struct{}, len(open))
	for _, p := range open {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := public[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		switch key := c.GetHeader(KeyHeader); {
		case secret == "":
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "admin secret key is not configured"})
		case key == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + KeyHeader + " header"})
		case subtle.ConstantTimeCompare([]byte(secret), []byte(key)) != 1:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret key"})
		default:
			c.Next()
		}
	}
}
