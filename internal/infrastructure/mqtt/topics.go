package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "habridge"

// Topics builds the bridge's MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("habridge")
//	topics.TaskResult(42) // "habridge/tasks/42/result"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders for prefix. Surrounding slashes are
// trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Status carries the bridge's own online/offline status and its LWT.
//
// Example: habridge/status
func (t Topics) Status() string {
	return t.Prefix() + "/status"
}

// Availability reports whether the home-automation hub is reachable.
//
// Example: habridge/backend/availability
func (t Topics) Availability() string {
	return t.Prefix() + "/backend/availability"
}

// Notification carries a fired notification for one user and entity.
//
// Example: habridge/notifications/1001/light.kitchen
func (t Topics) Notification(userID int64, entityID string) string {
	return fmt.Sprintf("%s/notifications/%d/%s", t.Prefix(), userID, entityID)
}

// Outbox carries chat messages awaiting delivery to a user.
//
// Example: habridge/outbox/1001
func (t Topics) Outbox(userID int64) string {
	return fmt.Sprintf("%s/outbox/%d", t.Prefix(), userID)
}

// TaskResult carries the outcome of a scheduled task run.
//
// Example: habridge/tasks/42/result
func (t Topics) TaskResult(taskID int64) string {
	return fmt.Sprintf("%s/tasks/%d/result", t.Prefix(), taskID)
}

// RegistrySync carries the summary of the last registry sync.
//
// Example: habridge/registry/sync
func (t Topics) RegistrySync() string {
	return t.Prefix() + "/registry/sync"
}

// CommandRegistrySync is subscribed to; any message requests a registry
// sync.
//
// Example: habridge/command/registry_sync
func (t Topics) CommandRegistrySync() string {
	return t.Prefix() + "/command/registry_sync"
}

// AllNotifications matches every notification topic.
//
// Pattern: habridge/notifications/+/+
func (t Topics) AllNotifications() string {
	return t.Prefix() + "/notifications/+/+"
}

// AllTaskResults matches every task result topic.
//
// Pattern: habridge/tasks/+/result
func (t Topics) AllTaskResults() string {
	return t.Prefix() + "/tasks/+/result"
}
