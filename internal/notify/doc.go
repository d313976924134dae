// Package notify turns live state_changed events into per-user chat
// notifications.
//
// The Engine keeps one persistent realtime subscription. For every event it
// loads the enabled subscriptions for the entity and, per subscription,
// applies the mute, the throttle window and the mode rule in that order.
// Notifications that fire are delivered to distinct recipients
// concurrently; a failure for one recipient never blocks the others.
//
// Delivery goes through a Messenger supplied by the chat layer. Each fired
// notification is also handed to the configured Publishers (MQTT, the API
// WebSocket hub, InfluxDB).
package notify
