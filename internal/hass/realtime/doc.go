// Package realtime implements the hub's WebSocket session.
//
// A Session walks Disconnected -> Connecting -> Authenticating -> Ready,
// optionally Subscribed and Streaming, and back to Disconnected when the
// socket closes. One reader goroutine owns the socket's read side and routes
// every inbound frame: results go to the caller waiting on that command id,
// events go to the subscription handler, and anything else counts against
// the unrelated-frame budget of every pending command.
//
// Two usage patterns share the Session:
//
//   - Batch opens a session, runs a sequence of commands and closes it, all
//     under one deadline. The registry synchronizer uses it.
//   - Persistent keeps a subscribed session alive, reconnecting with
//     exponential backoff (5s doubling to 120s) and re-subscribing on every
//     new connection. The notification engine uses it.
package realtime
