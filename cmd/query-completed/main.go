// Command query-completed reacts to Athena query state changes by notifying
// the requester or closing the ticket.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/sh3r4rd/audit_data_requests/internal/app"
	"github.com/sh3r4rd/audit_data_requests/internal/handler"
	"github.com/sh3r4rd/audit_data_requests/internal/workflow"
)

func main() {
	cfg, err := app.Init()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	deps, err := app.NewDeps(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to build dependencies", "error", err)
		os.Exit(1)
	}

	lambda.Start(handler.NewQueryCompleted(workflow.NewCompletion(deps)).Handle)
}
