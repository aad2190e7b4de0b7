package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

// Config is everything the Lambda functions read from their environment.
// It is parsed once at cold start and handed to components explicitly.
type Config struct {
	Region    string
	AccountID string
	LogLevel  slog.Level

	AuditBucketName    string
	AuditBucketARN     string
	AuditPrefix        string
	AnalysisBucketName string
	AnalysisBucketARN  string

	ManifestBucketName string
	ManifestBucketARN  string
	BatchJobRoleARN    string

	QueryRequestTableName   string
	SecureDownloadTableName string
	RequestRecordTTL        time.Duration
	DownloadRecordTTL       time.Duration

	DataRequestQueueURL string
	SendEmailQueueURL   string

	AthenaDatabase  string
	AthenaTable     string
	AthenaWorkgroup string

	ZendeskHostName  string
	ZendeskUserEmail string
	ZendeskAPIKey    string

	RestorePollDelay time.Duration
	CopyPollDelay    time.Duration
	MaxRestorePolls  int
	MaxCopyPolls     int
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(os.Getenv)
}

func parse(getenv func(string) string) (Config, error) {
	e := env{getenv: getenv}
	cfg := Config{
		Region:    e.required("AWS_REGION"),
		AccountID: e.required("AWS_ACCOUNT_ID"),
		LogLevel:  e.level("LOG_LEVEL", slog.LevelInfo),

		AuditBucketName:    e.required("AUDIT_BUCKET_NAME"),
		AuditBucketARN:     e.required("AUDIT_BUCKET_ARN"),
		AuditPrefix:        e.str("AUDIT_PREFIX", model.DefaultAuditPrefix),
		AnalysisBucketName: e.required("ANALYSIS_BUCKET_NAME"),
		AnalysisBucketARN:  e.required("ANALYSIS_BUCKET_ARN"),

		ManifestBucketName: e.required("BATCH_JOB_MANIFEST_BUCKET_NAME"),
		ManifestBucketARN:  e.required("BATCH_JOB_MANIFEST_BUCKET_ARN"),
		BatchJobRoleARN:    e.required("BATCH_JOB_ROLE_ARN"),

		QueryRequestTableName:   e.required("QUERY_REQUEST_DYNAMODB_TABLE_NAME"),
		SecureDownloadTableName: e.required("SECURE_DOWNLOAD_DYNAMODB_TABLE_NAME"),
		RequestRecordTTL:        time.Duration(e.positive("DATABASE_TTL_HOURS", model.RequestRecordTTLHours)) * time.Hour,
		DownloadRecordTTL:       time.Duration(e.positive("DOWNLOAD_TTL_HOURS", model.DownloadRecordTTLHours)) * time.Hour,

		DataRequestQueueURL: e.required("INITIATE_DATA_REQUEST_QUEUE_URL"),
		SendEmailQueueURL:   e.required("SEND_EMAIL_QUEUE_URL"),

		AthenaDatabase:  e.required("ATHENA_DATABASE_NAME"),
		AthenaTable:     e.required("ATHENA_TABLE_NAME"),
		AthenaWorkgroup: e.required("ATHENA_WORKGROUP_NAME"),

		ZendeskHostName:  e.required("ZENDESK_HOST_NAME"),
		ZendeskUserEmail: e.required("ZENDESK_API_USER_EMAIL"),
		ZendeskAPIKey:    e.required("ZENDESK_API_KEY"),

		RestorePollDelay: time.Duration(e.positive("RESTORE_POLL_DELAY_SECONDS", model.RestorePollDelaySeconds)) * time.Second,
		CopyPollDelay:    time.Duration(e.positive("COPY_POLL_DELAY_SECONDS", model.CopyPollDelaySeconds)) * time.Second,
		MaxRestorePolls:  e.positive("MAX_RESTORE_POLLS", model.MaxRestorePolls),
		MaxCopyPolls:     e.positive("MAX_COPY_POLLS", model.MaxCopyPolls),
	}
	if err := e.err(); err != nil {
		return Config{}, err
	}
	if cfg.RestorePollDelay > model.MaxQueueDelaySeconds*time.Second || cfg.CopyPollDelay > model.MaxQueueDelaySeconds*time.Second {
		return Config{}, fmt.Errorf("poll delays must not exceed %ds", model.MaxQueueDelaySeconds)
	}
	return cfg, nil
}

type env struct {
	getenv  func(string) string
	missing []string
	invalid []string
}

func (e *env) required(key string) string {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		e.missing = append(e.missing, key)
	}
	return v
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

// positive reads a whole number of at least 1.
func (e *env) positive(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		e.invalid = append(e.invalid, key)
		return def
	}
	return n
}

func (e *env) level(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.invalid = append(e.invalid, key)
		return def
	}
	return l
}

func (e *env) err() error {
	var parts []string
	if len(e.missing) > 0 {
		sort.Strings(e.missing)
		parts = append(parts, "missing environment variables: "+strings.Join(e.missing, ", "))
	}
	if len(e.invalid) > 0 {
		sort.Strings(e.invalid)
		parts = append(parts, "invalid environment variables: "+strings.Join(e.invalid, ", "))
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(parts, "; "))
}
