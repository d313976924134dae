package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
)

const (
	connectTimeout      = 10 * time.Second
	publishTimeout      = 5 * time.Second
	keepAlive           = 60 * time.Second
	disconnectQuiesceMs = 1000
)

// Presence states published retained on the status topic.
const (
	presenceOnline  = "online"
	presenceOffline = "offline"

	reasonShutdown = "graceful_shutdown"
	reasonLost     = "unexpected_disconnect"
)

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// clientOptions translates the mqtt config section into paho options,
// including a retained offline will on the status topic.
func clientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(topics.Status(), presencePayload(presenceOffline, cfg.Broker.ClientID, reasonLost), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// presence is the retained document on the status topic.
type presence struct {
	State    string `json:"status"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason,omitempty"`
	Since    string `json:"timestamp"`
}

func presencePayload(state, clientID, reason string) []byte {
	data, _ := json.Marshal(presence{
		State:    state,
		ClientID: clientID,
		Reason:   reason,
		Since:    time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
