// Package api implements the HTTP REST API and WebSocket hub of habridge.
//
// It exposes the registry graph, notification subscriptions and mutes,
// scheduled tasks, vacuum control and button callbacks to the chat layer and
// to operators, and pushes fired notifications, task results and registry
// syncs to WebSocket clients.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// Routes other than /health and /metrics require an HS256 bearer token
// signed with security.jwt.secret. With no secret configured the API is
// open, which is meant for development only. WebSocket clients that cannot
// set headers pass the token as the access_token query parameter.
//
// # Graceful Degradation
//
// Vacuum control, callbacks and live entity state are optional; their
// routes answer 503 when the collaborator is not configured.
package api
