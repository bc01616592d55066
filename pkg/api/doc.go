/*
Package api exposes the orchestrator's HTTP surface to mobile clients.

# Endpoints

	GET  /healthz                              liveness, no auth
	GET  /metrics                              Prometheus metrics, no auth
	POST /api/v2/chat/warmup                   ensure sandbox + gateway handle
	POST /api/v2/chat/completions              proxied chat (SSE when stream=true)
	GET  /api/v2/instance                      sandbox status
	POST /api/v2/instance/restart              restart the sandbox
	DELETE /api/v2/instance                    destroy sandbox and free its port
	POST /api/v2/notifications/device-token    register a push token
	DELETE /api/v2/notifications/device-token  remove a push token

All /api/v2 routes require a bearer JWT signed with the shared HS256
secret, carrying user_id and optionally tier (defaults to free). The
identity in the token scopes every operation; there is no cross-user
access path.

# Error Mapping

Lifecycle failures map to documented statuses: 503 when the port range
is exhausted or the container engine is down, 404 when no instance
exists. Upstream chat failures never become HTTP errors; the proxy
folds them into the stream as friendly content.
*/
package api
