// Package events fans the core's outputs out to the bridge's sinks.
//
// A Bus receives fired notifications, scheduled task runs, registry sync
// results and backend availability changes, and forwards each one to MQTT,
// the API WebSocket hub and InfluxDB, whichever are configured. It also
// carries outbound chat messages to the MQTT outbox read by the chat layer
// and turns registry sync commands received over MQTT into sync passes.
//
// Sinks are optional: a Bus with none configured drops everything. A failing
// sink never prevents delivery to the others.
package events
