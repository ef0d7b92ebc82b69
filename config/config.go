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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5003"
	DEFAULT_MONITORING_PORT = "5004"
	DEFAULT_QUEUE           = "ingest:threads"

	// DEFAULT_MAILBOX_QUERY selects inbox threads, excluding chats, flagged important, above a minimum size.
	DEFAULT_MAILBOX_QUERY = "in:inbox -in:chats is:important larger:1K"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"INGEST_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"INGEST_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"INGEST_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"INGEST_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"INGEST_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"INGEST_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	Name              string `json:"name" envconfig:"INGEST_QUEUE_NAME"`
	WorkerConcurrency int    `json:"worker_concurrency" envconfig:"INGEST_QUEUE_WORKER_CONCURRENCY"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"INGEST_QUEUE_MONITORING_PORT"`

	// AdmissionRetryDelaySec is how long a refused delivery waits before it becomes visible again.
	AdmissionRetryDelaySec int `json:"admission_retry_delay_sec" envconfig:"INGEST_QUEUE_ADMISSION_RETRY_DELAY_SEC"`
	RetryInitialDelaySec   int `json:"retry_initial_delay_sec" envconfig:"INGEST_QUEUE_RETRY_INITIAL_DELAY_SEC"`
	RetryMaxDelaySec       int `json:"retry_max_delay_sec" envconfig:"INGEST_QUEUE_RETRY_MAX_DELAY_SEC"`
}

type PipelineConfig struct {
	ConcurrencyLimit   int  `json:"concurrency_limit" envconfig:"INGEST_PIPELINE_CONCURRENCY_LIMIT"`
	BatchSize          int  `json:"batch_size" envconfig:"INGEST_PIPELINE_BATCH_SIZE"`
	PerUserThreadCap   int  `json:"per_user_thread_cap" envconfig:"INGEST_PIPELINE_PER_USER_THREAD_CAP"`
	MaxAttempts        int  `json:"max_attempts" envconfig:"INGEST_PIPELINE_MAX_ATTEMPTS"`
	MaxPagesPerRun     int  `json:"max_pages_per_run" envconfig:"INGEST_PIPELINE_MAX_PAGES_PER_RUN"`
	FetchParallelism   int  `json:"fetch_parallelism" envconfig:"INGEST_PIPELINE_FETCH_PARALLELISM"`
	CursorTTLSec       int  `json:"cursor_ttl_sec" envconfig:"INGEST_PIPELINE_CURSOR_TTL_SEC"`
	ExhaustedTTLSec    int  `json:"exhausted_ttl_sec" envconfig:"INGEST_PIPELINE_EXHAUSTED_TTL_SEC"`
	DrainTimeoutSec    int  `json:"drain_timeout_sec" envconfig:"INGEST_PIPELINE_DRAIN_TIMEOUT_SEC"`
	ProcessTimeoutSec  int  `json:"process_timeout_sec" envconfig:"INGEST_PIPELINE_PROCESS_TIMEOUT_SEC"`
	DisableExhaustMark bool `json:"disable_exhaust_mark" envconfig:"INGEST_PIPELINE_DISABLE_EXHAUST_MARK"`
	DisableUserLock    bool `json:"disable_user_lock" envconfig:"INGEST_PIPELINE_DISABLE_USER_LOCK"`
	UserLockTTLSec     int  `json:"user_lock_ttl_sec" envconfig:"INGEST_PIPELINE_USER_LOCK_TTL_SEC"`
}

type MailboxConfig struct {
	Query    string `json:"query" envconfig:"INGEST_MAILBOX_QUERY"`
	Endpoint string `json:"endpoint" envconfig:"INGEST_MAILBOX_ENDPOINT"`
	UserID   string `json:"user_id" envconfig:"INGEST_MAILBOX_USER_ID"`
}

type CollaboratorConfig struct {
	AnnotationUrl string `json:"annotation_url" envconfig:"INGEST_COLLABORATORS_ANNOTATION_URL"`
	EmbeddingUrl  string `json:"embedding_url" envconfig:"INGEST_COLLABORATORS_EMBEDDING_URL"`
	TimeoutSec    int    `json:"timeout_sec" envconfig:"INGEST_COLLABORATORS_TIMEOUT_SEC"`

	// AnnotationMaxElapsedSec bounds the annotation client's own backoff.
	AnnotationMaxElapsedSec int               `json:"annotation_max_elapsed_sec" envconfig:"INGEST_COLLABORATORS_ANNOTATION_MAX_ELAPSED_SEC"`
	Headers                 map[string]string `json:"headers"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"INGEST_NOTIFICATION_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"INGEST_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"INGEST_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"INGEST_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type TelemetryConfig struct {
	EnableTracing bool   `json:"enable_tracing" envconfig:"INGEST_TELEMETRY_ENABLE_TRACING"`
	ServiceName   string `json:"service_name" envconfig:"INGEST_TELEMETRY_SERVICE_NAME"`
	PostHogKey    string `json:"posthog_key" envconfig:"INGEST_TELEMETRY_POSTHOG_KEY"`
	PostHogHost   string `json:"posthog_host" envconfig:"INGEST_TELEMETRY_POSTHOG_HOST"`
}

type Configuration struct {
	ProjectName   string             `json:"project_name" envconfig:"INGEST_PROJECT_NAME"`
	Server        ServerConfig       `json:"server"`
	DataSource    DataSourceConfig   `json:"data_source"`
	Redis         RedisConfig        `json:"redis"`
	Queue         QueueConfig        `json:"queue"`
	Pipeline      PipelineConfig     `json:"pipeline"`
	Mailbox       MailboxConfig      `json:"mailbox"`
	Collaborators CollaboratorConfig `json:"collaborators"`
	Notification  Notification       `json:"notification"`
	RateLimit     RateLimitConfig    `json:"rate_limit"`
	Telemetry     TelemetryConfig    `json:"telemetry"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("ingest", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called ingest.json with your config ❌")
	}
	return c, nil
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Thread Ingest"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Mailbox.Query = strings.TrimSpace(cnf.Mailbox.Query)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.Name == "" {
		cnf.Queue.Name = DEFAULT_QUEUE
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	defaultInt(&cnf.Queue.AdmissionRetryDelaySec, 5)
	defaultInt(&cnf.Queue.RetryInitialDelaySec, 10)
	defaultInt(&cnf.Queue.RetryMaxDelaySec, 600)

	defaultInt(&cnf.Pipeline.ConcurrencyLimit, 10)
	defaultInt(&cnf.Pipeline.BatchSize, 100)
	defaultInt(&cnf.Pipeline.PerUserThreadCap, 500)
	defaultInt(&cnf.Pipeline.MaxAttempts, 3)
	defaultInt(&cnf.Pipeline.MaxPagesPerRun, 50)
	defaultInt(&cnf.Pipeline.FetchParallelism, 10)
	defaultInt(&cnf.Pipeline.CursorTTLSec, 3600)
	defaultInt(&cnf.Pipeline.ExhaustedTTLSec, 86400)
	defaultInt(&cnf.Pipeline.UserLockTTLSec, 900)
	defaultInt(&cnf.Pipeline.DrainTimeoutSec, 30)
	defaultInt(&cnf.Pipeline.ProcessTimeoutSec, 600)

	// The bus must be able to run more handlers than the gate admits, otherwise the gate never refuses.
	if cnf.Queue.WorkerConcurrency <= 0 {
		cnf.Queue.WorkerConcurrency = 2 * cnf.Pipeline.ConcurrencyLimit
	}

	if cnf.Mailbox.Query == "" {
		cnf.Mailbox.Query = DEFAULT_MAILBOX_QUERY
	}
	if cnf.Mailbox.UserID == "" {
		cnf.Mailbox.UserID = "me"
	}

	defaultInt(&cnf.Collaborators.TimeoutSec, 30)
	defaultInt(&cnf.Collaborators.AnnotationMaxElapsedSec, 120)

	if cnf.Telemetry.ServiceName == "" {
		cnf.Telemetry.ServiceName = "thread-ingest"
	}
	if cnf.Telemetry.PostHogHost == "" {
		cnf.Telemetry.PostHogHost = "https://us.i.posthog.com"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
// Defaults are applied on a best-effort basis so tests only need to set what they care about.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.DataSource.Dns == "" {
		mockConfig.DataSource.Dns = "postgres://localhost:5432/ingest?sslmode=disable"
	}
	if mockConfig.Redis.Dns == "" {
		mockConfig.Redis.Dns = "localhost:6379"
	}
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
