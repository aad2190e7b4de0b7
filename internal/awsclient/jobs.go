package awsclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/aws-sdk-go-v2/service/s3control/types"

	"github.com/sh3r4rd/audit_data_requests/internal/model"
	"github.com/sh3r4rd/audit_data_requests/internal/workflow"
)

// S3ControlAPI is the subset of the S3 Control client used here.
type S3ControlAPI interface {
	CreateJob(ctx context.Context, params *s3control.CreateJobInput, optFns ...func(*s3control.Options)) (*s3control.CreateJobOutput, error)
	DescribeJob(ctx context.Context, params *s3control.DescribeJobInput, optFns ...func(*s3control.Options)) (*s3control.DescribeJobOutput, error)
}

// ManifestWriter stores a job manifest and returns its ETag.
type ManifestWriter interface {
	PutObject(ctx context.Context, bucket, key, body string) (string, error)
}

// JobConfig names the buckets and role the batch jobs run with.
type JobConfig struct {
	AccountID          string
	RoleARN            string
	SourceBucket       string
	TargetBucketARN    string
	ManifestBucketName string
	ManifestBucketARN  string
	RestoreDays        int32
}

// restoreDays is how long restored copies of archived objects are kept.
const restoreDays = 5

// JobService runs copy and restore jobs with S3 Batch Operations.
type JobService struct {
	client    S3ControlAPI
	manifests ManifestWriter
	cfg       JobConfig
}

// NewJobService returns a JobService that writes manifests through manifests.
func NewJobService(client S3ControlAPI, manifests ManifestWriter, cfg JobConfig) *JobService {
	if cfg.RestoreDays == 0 {
		cfg.RestoreDays = restoreDays
	}
	return &JobService{client: client, manifests: manifests, cfg: cfg}
}

// StartCopyJob copies keys from the audit bucket into the analysis bucket.
func (j *JobService) StartCopyJob(ctx context.Context, keys []string, ticketID string) (string, error) {
	return j.start(ctx, model.JobKindCopy, keys, ticketID, &types.JobOperation{
		S3PutObjectCopy: &types.S3CopyObjectOperation{
			TargetResource: aws.String(j.cfg.TargetBucketARN),
			StorageClass:   types.S3StorageClassStandard,
		},
	})
}

// StartRestoreJob restores archived keys in place so they can be copied.
func (j *JobService) StartRestoreJob(ctx context.Context, keys []string, ticketID string) (string, error) {
	return j.start(ctx, model.JobKindRestore, keys, ticketID, &types.JobOperation{
		S3InitiateRestoreObject: &types.S3InitiateRestoreObjectOperation{
			ExpirationInDays: aws.Int32(j.cfg.RestoreDays),
			GlacierJobTier:   types.S3GlacierJobTierBulk,
		},
	})
}

func (j *JobService) start(ctx context.Context, kind model.JobKind, keys []string, ticketID string, op *types.JobOperation) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("no objects to %s", strings.ToLower(string(kind)))
	}
	key := ManifestKey(ticketID, kind)
	etag, err := j.manifests.PutObject(ctx, j.cfg.ManifestBucketName, key, Manifest(j.cfg.SourceBucket, keys))
	if err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	out, err := j.client.CreateJob(ctx, &s3control.CreateJobInput{
		AccountId:            aws.String(j.cfg.AccountID),
		ClientRequestToken:   aws.String(ClientToken(ticketID, string(kind))),
		ConfirmationRequired: aws.Bool(false),
		Description:          aws.String(fmt.Sprintf("%s for ticket %s", kind, ticketID)),
		Operation:            op,
		Priority:             aws.Int32(1),
		RoleArn:              aws.String(j.cfg.RoleARN),
		Report:               &types.JobReport{Enabled: false},
		Manifest: &types.JobManifest{
			Spec: &types.JobManifestSpec{
				Format: types.JobManifestFormatS3BatchOperationsCsv20180820,
				Fields: []types.JobManifestFieldName{types.JobManifestFieldNameBucket, types.JobManifestFieldNameKey},
			},
			Location: &types.JobManifestLocation{
				ObjectArn: aws.String(j.cfg.ManifestBucketARN + "/" + key),
				ETag:      aws.String(etag),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create %s job: %w", kind, err)
	}
	jobID := aws.ToString(out.JobId)
	slog.Default().InfoContext(ctx, "batch job created",
		"component", "job_service", "ticket_id", ticketID, "job_id", jobID, "job_kind", kind, "objects", len(keys))
	return jobID, nil
}

// JobStatus maps the batch job's status onto running, succeeded or failed.
// A job that completes with failed tasks is reported as failed.
func (j *JobService) JobStatus(ctx context.Context, jobID string) (workflow.JobInfo, error) {
	out, err := j.client.DescribeJob(ctx, &s3control.DescribeJobInput{
		AccountId: aws.String(j.cfg.AccountID),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return workflow.JobInfo{}, fmt.Errorf("describe job %s: %w", jobID, err)
	}
	if out.Job == nil {
		return workflow.JobInfo{}, fmt.Errorf("describe job %s: empty response", jobID)
	}
	return jobInfo(out.Job), nil
}

func jobInfo(job *types.JobDescriptor) workflow.JobInfo {
	switch job.Status {
	case types.JobStatusComplete:
		if p := job.ProgressSummary; p != nil && aws.ToInt64(p.NumberOfTasksFailed) > 0 {
			return workflow.JobInfo{
				Status: workflow.JobFailed,
				Reason: fmt.Sprintf("%d of %d tasks failed", aws.ToInt64(p.NumberOfTasksFailed), aws.ToInt64(p.TotalNumberOfTasks)),
			}
		}
		return workflow.JobInfo{Status: workflow.JobSucceeded}
	case types.JobStatusFailed, types.JobStatusCancelled:
		return workflow.JobInfo{Status: workflow.JobFailed, Reason: failureReason(job)}
	}
	return workflow.JobInfo{Status: workflow.JobRunning}
}

func failureReason(job *types.JobDescriptor) string {
	reasons := make([]string, 0, len(job.FailureReasons))
	for _, f := range job.FailureReasons {
		reasons = append(reasons, strings.TrimSpace(aws.ToString(f.FailureCode)+" "+aws.ToString(f.FailureReason)))
	}
	if len(reasons) == 0 {
		if r := aws.ToString(job.StatusUpdateReason); r != "" {
			return r
		}
		return "job " + strings.ToLower(string(job.Status))
	}
	return strings.Join(reasons, "; ")
}

// ManifestKey names the manifest object for a ticket's job.
func ManifestKey(ticketID string, kind model.JobKind) string {
	return fmt.Sprintf("%s-%s-manifest.csv", ticketID, strings.ToLower(string(kind)))
}

// Manifest renders a batch operations CSV manifest of bucket,key lines.
func Manifest(bucket string, keys []string) string {
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = bucket + "," + k
	}
	return strings.Join(lines, "\r\n")
}
