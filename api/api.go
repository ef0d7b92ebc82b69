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

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/ingest/api/middleware"
	"github.com/blnkfinance/ingest/config"
	"github.com/blnkfinance/ingest/model"
)

// Service is what the admin API needs from the ingestion pipeline.
type Service interface {
	Enqueue(ctx context.Context, msg model.IngestionMessage) (string, error)
	DeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error)
	DeadLetter(ctx context.Context, messageID string) (*model.DeadLetter, error)
	CursorStatus(ctx context.Context, userID string) (model.CursorState, error)
	ResetCursor(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}

type Api struct {
	service  Service
	gatherer prometheus.Gatherer
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/health", a.Health)
	router.POST("/ingest", a.EnqueueIngestion)
	router.GET("/dead-letters", a.GetDeadLetters)
	router.GET("/dead-letters/:message_id", a.GetDeadLetter)
	router.GET("/users/:id/cursor", a.GetCursor)
	router.DELETE("/users/:id/cursor", a.ResetCursor)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	return a.router
}

func NewAPI(s Service, gatherer prometheus.Gatherer) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.Telemetry.ServiceName))
	r.Use(middleware.RateLimit(conf.RateLimit))
	if conf.Server.Secure {
		r.Use(middleware.SecretKey(conf.Server.SecretKey, "/", "/health", "/metrics"))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{service: s, gatherer: gatherer, router: r}
}
