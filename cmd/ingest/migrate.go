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

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/ingest"
	"github.com/blnkfinance/ingest/config"
	"github.com/blnkfinance/ingest/database"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(_ *ingestInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "apply or roll back the ledger schema",
		Annotations: map[string]string{skipSetup: "true"},
	}

	cmd.AddCommand(migrateCommand("up", migrate.Up))
	cmd.AddCommand(migrateCommand("down", migrate.Down))

	return cmd
}

func migrateCommand(use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: ingest.SQLFiles,
				Root:       "sql",
			}

			cnf, err := config.Fetch()
			if err != nil {
				log.Printf("Error fetching config: %v", err)
				return
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetSchema("ingest")

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Applied %d migrations (%s)!\n", n, use)
		},
	}
}
