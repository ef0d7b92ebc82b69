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

	"github.com/spf13/cobra"

	"github.com/blnkfinance/ingest/model"
)

// enqueueCommands publishes one ingestion message, mostly for backfills and local testing.
func enqueueCommands(b *ingestInstance) *cobra.Command {
	var msg model.IngestionMessage

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "enqueue an ingestion message for a user",
		Run: func(cmd *cobra.Command, args []string) {
			taskID, err := b.ingestor.Enqueue(context.Background(), msg)
			if err != nil {
				log.Fatalf("Error enqueueing message: %v", err)
			}
			fmt.Println(taskID)
		},
	}
	cmd.Flags().StringVar(&msg.UserID, "user", "", "user whose mailbox is ingested")
	cmd.Flags().StringVar(&msg.AccessToken, "token", "", "OAuth2 access token for the mailbox")
	cmd.Flags().BoolVar(&msg.IsNewUser, "new-user", false, "mark the user as newly onboarded")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}
