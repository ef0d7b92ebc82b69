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
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/ingest"
	"github.com/blnkfinance/ingest/config"
	"github.com/blnkfinance/ingest/database"
	redis_db "github.com/blnkfinance/ingest/internal/redis-db"
	"github.com/blnkfinance/ingest/internal/notification"
)

// skipSetup marks commands that only need the configuration.
const skipSetup = "skip_setup"

// Ingest is the CLI application, wrapping the root Cobra command.
type Ingest struct {
	cmd *cobra.Command
}

// ingestInstance holds the runtime pipeline and its configuration for the subcommands.
type ingestInstance struct {
	ingestor *ingest.Ingestor
	cnf      *config.Configuration
	registry *prometheus.Registry
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and, unless the command opts out, connects the pipeline.
func preRun(app *ingestInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if cmd.Annotations[skipSetup] == "true" {
			return nil
		}

		newIngestor, err := setupIngestor(cnf, app.registry)
		if err != nil {
			notification.NotifyError(err, map[string]string{"command": cmd.Name()})
			log.Fatal(err)
		}
		app.ingestor = newIngestor
		return nil
	}
}

// setupIngestor connects postgres and redis and builds the pipeline on top of them.
func setupIngestor(cfg *config.Configuration, reg prometheus.Registerer) (*ingest.Ingestor, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	rdb, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	newIngestor, err := ingest.NewIngestor(db, rdb, reg)
	if err != nil {
		return nil, fmt.Errorf("error creating ingestor: %v", err)
	}
	return newIngestor, nil
}

// NewCLI creates the root command and its subcommands.
func NewCLI() *Ingest {
	var configFile string
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b := &ingestInstance{registry: registry}

	var rootCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Incremental mailbox thread ingestion",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./ingest.json", "Configuration file for the ingestion pipeline")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(enqueueCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Ingest{cmd: rootCmd}
}

func (w Ingest) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
