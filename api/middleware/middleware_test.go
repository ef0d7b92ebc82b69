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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/ingest/config"
)

func newTestEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) { c.JSON(http.StatusOK, "ok") })
	r.GET("/dead-letters", func(c *gin.Context) { c.JSON(http.StatusOK, "ok") })
	return r
}

func serve(r *gin.Engine, path string, header map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestSecretKey(t *testing.T) {
	r := newTestEngine(SecretKey("s3cret", "/"))

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"liveness is open", "/", nil, http.StatusOK},
		{"missing key", "/dead-letters", nil, http.StatusUnauthorized},
		{"wrong key", "/dead-letters", map[string]string{KeyHeader: "nope"}, http.StatusUnauthorized},
		{"valid key", "/dead-letters", map[string]string{KeyHeader: "s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(r, tt.path, tt.header))
		})
	}
}

func TestSecretKey_EmptySecretFailsClosed(t *testing.T) {
	r := newTestEngine(SecretKey(""))

	assert.Equal(t, http.StatusInternalServerError, serve(r, "/dead-letters", map[string]string{KeyHeader: "x"}))
	assert.Equal(t, http.StatusInternalServerError, serve(r, "/", nil))
}

func TestRateLimit(t *testing.T) {
	rps := 1.0
	burst := 2
	r := newTestEngine(RateLimit(config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst}))

	assert.Equal(t, http.StatusOK, serve(r, "/", nil))
	assert.Equal(t, http.StatusOK, serve(r, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/", nil))
}

func TestRateLimit_Disabled(t *testing.T) {
	r := newTestEngine(RateLimit(config.RateLimitConfig{}))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, serve(r, "/", nil))
	}
}
