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
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/ingest"
	"github.com/blnkfinance/ingest/config"
	redis_db "github.com/blnkfinance/ingest/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeWorkerServer(conf *config.Configuration, worker *ingest.Worker) (*asynq.Server, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %v", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:     conf.Queue.WorkerConcurrency,
		Queues:          map[string]int{conf.Queue.Name: 1},
		IsFailure:       worker.IsFailure,
		RetryDelayFunc:  worker.RetryDelayFunc,
		ShutdownTimeout: time.Duration(conf.Pipeline.DrainTimeoutSec) * time.Second,
		Logger:          logrus.StandardLogger(),
	})
	return srv, nil
}

// monitoringHandler serves asynqmon under /monitoring and the pipeline metrics under /metrics.
func monitoringHandler(conf *config.Configuration, b *ingestInstance) (http.Handler, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})
	mux := http.NewServeMux()
	mux.Handle(h.RootPath()+"/", h)
	mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	return mux, nil
}

// workerCommands defines the "workers" command, which consumes the ingestion queue until
// SIGINT or SIGTERM and then drains the deliveries in flight.
func workerCommands(b *ingestInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start ingestion workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			conf := b.cnf

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			srv, err := initializeWorkerServer(conf, b.ingestor.Worker())
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.Name, b.ingestor.Worker().ProcessTask)

			handler, err := monitoringHandler(conf, b)
			if err != nil {
				log.Fatal(err)
			}
			monitoring := &http.Server{Addr: fmt.Sprintf(":%s", conf.Queue.MonitoringPort), Handler: handler}
			go func() {
				log.Printf("Asynqmon server listening on %s/monitoring", monitoring.Addr)
				if err := monitoring.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			logrus.WithField("queue", conf.Queue.Name).Info("ingestion workers started")

			<-ctx.Done()
			logrus.Info("shutting down ingestion workers")

			if err := b.ingestor.Shutdown(context.Background(), srv); err != nil {
				logrus.WithError(err).Error("ingestion workers did not shut down cleanly")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = monitoring.Shutdown(shutdownCtx)
		},
	}

	return cmd
}
