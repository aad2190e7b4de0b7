// Package awsclient adapts the AWS SDK clients to the workflow's
// collaborator interfaces.
package awsclient

import (
	"strings"

	"github.com/google/uuid"
)

// tokenNamespace scopes client request tokens to this service.
var tokenNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://audit-data-requests/client-request-token"))

// ClientToken derives a stable idempotency token from its parts, so a retried
// call for the same ticket and operation reuses the first request.
func ClientToken(parts ...string) string {
	return uuid.NewSHA1(tokenNamespace, []byte(strings.Join(parts, "/"))).String()
}
