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

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/ingest/api"
	"github.com/blnkfinance/ingest/config"
	trace "github.com/blnkfinance/ingest/internal/traces"
)

// sendHeartbeat initializes and maintains a periodic heartbeat to PostHog
func sendHeartbeat(client posthog.Client, heartbeatID string) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for range ticker.C {
			if err := client.Enqueue(posthog.Capture{
				DistinctId: heartbeatID,
				Event:      "ingest_heartbeat",
				Properties: map[string]interface{}{
					"timestamp": time.Now().UTC(),
				},
			}); err != nil {
				log.Printf("Failed to send heartbeat: %v", err)
			}
		}
	}()
}

func initializeRouter(b *ingestInstance) *gin.Engine {
	return api.NewAPI(b.ingestor, b.registry).Router()
}

func initializeTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializePostHog(cfg config.TelemetryConfig) (posthog.Client, error) {
	client, err := posthog.NewWithConfig(cfg.PostHogKey, posthog.Config{Endpoint: cfg.PostHogHost})
	if err != nil {
		return nil, err
	}
	sendHeartbeat(client, uuid.New().String())
	return client, nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// initializeObservability starts tracing and the usage heartbeat when they are configured.
// The returned shutdown func is never nil.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (posthog.Client, func(context.Context) error, error) {
	shutdown := func(context.Context) error { return nil }
	if cfg.Telemetry.EnableTracing {
		var err error
		shutdown, err = initializeTracing(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, nil, err
		}
	}

	if cfg.Telemetry.PostHogKey == "" {
		return nil, shutdown, nil
	}
	phClient, err := initializePostHog(cfg.Telemetry)
	if err != nil {
		log.Printf("PostHog initialization error: %v", err)
		return nil, shutdown, nil
	}
	return phClient, shutdown, nil
}

// serverCommands returns the command that starts the admin API.
func serverCommands(b *ingestInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the ingestion admin server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			cfg := b.cnf

			router := initializeRouter(b)

			phClient, shutdown, err := initializeObservability(ctx, cfg)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
