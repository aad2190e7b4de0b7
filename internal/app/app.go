// Package app wires the production AWS and Zendesk clients into the
// workflow for the Lambda entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/sh3r4rd/audit_data_requests/internal/availability"
	"github.com/sh3r4rd/audit_data_requests/internal/awsclient"
	"github.com/sh3r4rd/audit_data_requests/internal/config"
	"github.com/sh3r4rd/audit_data_requests/internal/store"
	"github.com/sh3r4rd/audit_data_requests/internal/workflow"
	"github.com/sh3r4rd/audit_data_requests/internal/zendesk"
)

// Init loads the configuration and installs the JSON logger. Entry points
// call it once at cold start.
func Init() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
	return cfg, nil
}

// NewDeps builds the workflow's production collaborators from cfg.
func NewDeps(ctx context.Context, cfg config.Config) (workflow.Deps, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return workflow.Deps{}, fmt.Errorf("load aws config: %w", err)
	}
	return newDeps(cfg, awsCfg), nil
}

func newDeps(cfg config.Config, awsCfg aws.Config) workflow.Deps {
	objects := awsclient.NewObjectStore(s3.NewFromConfig(awsCfg))
	queue := awsclient.NewQueue(sqs.NewFromConfig(awsCfg), cfg.DataRequestQueueURL, cfg.SendEmailQueueURL)

	return workflow.Deps{
		Store:   store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.QueryRequestTableName, cfg.SecureDownloadTableName),
		Checker: availability.NewChecker(objects, cfg.AuditBucketName, cfg.AuditPrefix),
		Jobs: awsclient.NewJobService(s3control.NewFromConfig(awsCfg), objects, awsclient.JobConfig{
			AccountID:          cfg.AccountID,
			RoleARN:            cfg.BatchJobRoleARN,
			SourceBucket:       cfg.AuditBucketName,
			TargetBucketARN:    cfg.AnalysisBucketARN,
			ManifestBucketName: cfg.ManifestBucketName,
			ManifestBucketARN:  cfg.ManifestBucketARN,
		}),
		Scheduler: queue,
		Notifier:  queue,
		Engine: awsclient.NewAthena(athena.NewFromConfig(awsCfg), awsclient.AthenaConfig{
			Database:  cfg.AthenaDatabase,
			Table:     cfg.AthenaTable,
			Workgroup: cfg.AthenaWorkgroup,
		}),
		Ticketing: zendesk.NewClient(cfg.ZendeskHostName, cfg.ZendeskUserEmail, cfg.ZendeskAPIKey),
		Config:    WorkflowConfig(cfg),
	}
}

// WorkflowConfig extracts the workflow's tunables from cfg.
func WorkflowConfig(cfg config.Config) workflow.Config {
	return workflow.Config{
		RequestRecordTTL:  cfg.RequestRecordTTL,
		DownloadRecordTTL: cfg.DownloadRecordTTL,
		RestorePollDelay:  cfg.RestorePollDelay,
		CopyPollDelay:     cfg.CopyPollDelay,
		MaxRestorePolls:   cfg.MaxRestorePolls,
		MaxCopyPolls:      cfg.MaxCopyPolls,
	}
}
