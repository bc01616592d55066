// Package push delivers notifications to user devices.
//
// The Sender interface decouples alert dispatch from the transport. The
// production implementation talks to APNs over HTTP/2 with an ES256
// provider token; NopSender serves deployments without push credentials.
package push

import (
	"context"
)

// Sender delivers a notification to every device registered for a user
// and reports how many sends succeeded.
type Sender interface {
	Send(ctx context.Context, userID, title, body string, data map[string]interface{}) (int, error)
}

// NopSender drops every push. Used when APNs credentials are absent.
type NopSender struct{}

func (NopSender) Send(ctx context.Context, userID, title, body string, data map[string]interface{}) (int, error) {
	return 0, nil
}
