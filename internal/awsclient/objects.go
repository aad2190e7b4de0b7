package awsclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sh3r4rd/audit_data_requests/internal/availability"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectStore lists audit objects and writes batch job manifests.
type ObjectStore struct {
	client S3API
}

// NewObjectStore wraps an S3 client.
func NewObjectStore(client S3API) *ObjectStore {
	return &ObjectStore{client: client}
}

// ListObjectsPage returns one page of objects under prefix.
func (o *ObjectStore) ListObjectsPage(ctx context.Context, bucket, prefix, token string) (availability.Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	out, err := o.client.ListObjectsV2(ctx, in)
	if err != nil {
		return availability.Page{}, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
	}

	page := availability.Page{Objects: make([]availability.Object, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, availability.Object{
			Key:          aws.ToString(obj.Key),
			StorageClass: string(obj.StorageClass),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// PutObject writes body to bucket/key and returns the object's ETag with
// its surrounding quotes removed.
func (o *ObjectStore) PutObject(ctx context.Context, bucket, key, body string) (string, error) {
	out, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}
