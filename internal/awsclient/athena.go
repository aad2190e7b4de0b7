package awsclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/smithy-go"

	"github.com/sh3r4rd/audit_data_requests/internal/querybuilder"
)

// AthenaAPI is the subset of the Athena client used here.
type AthenaAPI interface {
	GetTableMetadata(ctx context.Context, params *athena.GetTableMetadataInput, optFns ...func(*athena.Options)) (*athena.GetTableMetadataOutput, error)
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
}

// AthenaConfig names the table queries run against.
type AthenaConfig struct {
	Catalog   string
	Database  string
	Table     string
	Workgroup string
}

const defaultCatalog = "AwsDataCatalog"

// Athena resolves the audit table and submits parameterised queries.
type Athena struct {
	client AthenaAPI
	cfg    AthenaConfig
}

// NewAthena returns an engine for cfg, defaulting the catalog to AwsDataCatalog.
func NewAthena(client AthenaAPI, cfg AthenaConfig) *Athena {
	if cfg.Catalog == "" {
		cfg.Catalog = defaultCatalog
	}
	return &Athena{client: client, cfg: cfg}
}

// Table reports whether the configured table exists. A missing database or
// table is an unavailable table, not an error.
func (a *Athena) Table(ctx context.Context) (querybuilder.Table, error) {
	t := querybuilder.Table{Database: a.cfg.Database, Name: a.cfg.Table}
	out, err := a.client.GetTableMetadata(ctx, &athena.GetTableMetadataInput{
		CatalogName:  aws.String(a.cfg.Catalog),
		DatabaseName: aws.String(a.cfg.Database),
		TableName:    aws.String(a.cfg.Table),
	})
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.ErrorCode() == "MetadataException":
		t.Message = fmt.Sprintf("Athena Data Source Table %s not found: %s", t.Ref(), apiErr.ErrorMessage())
		return t, nil
	case err != nil:
		return t, fmt.Errorf("get table metadata for %s: %w", t.Ref(), err)
	case out.TableMetadata == nil:
		t.Message = fmt.Sprintf("Athena Data Source Table %s not found", t.Ref())
		return t, nil
	}
	t.Available = true
	t.Message = fmt.Sprintf("Athena Data Source Table %s found", t.Ref())
	return t, nil
}

// StartQuery submits q. The request token is derived from the ticket so a
// retried submission returns the first execution.
func (a *Athena) StartQuery(ctx context.Context, q querybuilder.Query, ticketID string) (string, error) {
	out, err := a.client.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString:         aws.String(q.SQL),
		ExecutionParameters: q.Parameters,
		ClientRequestToken:  aws.String(ClientToken(ticketID, "query")),
		WorkGroup:           aws.String(a.cfg.Workgroup),
		QueryExecutionContext: &types.QueryExecutionContext{
			Catalog:  aws.String(a.cfg.Catalog),
			Database: aws.String(a.cfg.Database),
		},
	})
	if err != nil {
		return "", fmt.Errorf("start query execution: %w", err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}
