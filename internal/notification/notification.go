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

package notification

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ingest/config"
	"github.com/blnkfinance/ingest/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

var slackClient = &http.Client{Timeout: 10 * time.Second}

func buildSlackMessage(err error, fields map[string]string, at time.Time) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From Thread Ingest 🐞", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
	}}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, fields[k]))
		}
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: "*Context:*\n" + strings.Join(lines, "\n")}},
		})
	}

	msg.Blocks = append(msg.Blocks, slackBlock{
		Type:   "section",
		Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))}},
	})
	return msg
}

// SlackNotification posts err, with optional context fields, to a Slack incoming webhook.
func SlackNotification(webhookURL string, err error, fields map[string]string) error {
	payload, jsonErr := request.ToJsonReq(buildSlackMessage(err, fields, time.Now()))
	if jsonErr != nil {
		return jsonErr
	}

	req, reqErr := http.NewRequest(http.MethodPost, webhookURL, payload)
	if reqErr != nil {
		return reqErr
	}

	// Slack answers "ok" as plain text, so the body is not decoded.
	_, callErr := request.Call(slackClient, req, nil)
	return callErr
}

func notifyError(systemError error, fields map[string]string) {
	logrus.WithField("notify", true).Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}

	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}
	if err := SlackNotification(conf.Notification.Slack.WebhookUrl, systemError, fields); err != nil {
		logrus.Errorf("slack notification failed: %v", err)
	}
}

// NotifyError logs systemError and forwards it to Slack when a webhook is configured.
// It returns immediately; delivery happens on a separate goroutine.
func NotifyError(systemError error, fields map[string]string) {
	go notifyError(systemError, fields)
}
