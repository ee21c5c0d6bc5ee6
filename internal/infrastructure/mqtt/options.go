package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = time.Second
	defaultKeepAlive         = 60 * time.Second

	// Used when the reconnect section is left at zero.
	fallbackRetryInterval = time.Second
	fallbackMaxReconnect  = 60 * time.Second

	maxQoS = 2
)

// buildClientOptions maps the mqtt config section onto paho options. The
// session is clean: scanners re-announce themselves on reconnect, so nothing
// is gained from broker-side session state.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetKeepAlive(defaultKeepAlive).
		SetConnectTimeout(defaultConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	retry, maxRetry := reconnectBackoff(cfg.Reconnect)
	opts.SetConnectRetryInterval(retry)
	opts.SetMaxReconnectInterval(maxRetry)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// reconnectBackoff converts the configured delays (seconds) into the initial
// retry interval and the reconnect ceiling.
func reconnectBackoff(r config.MQTTReconnectConfig) (retry, ceiling time.Duration) {
	retry = time.Duration(r.InitialDelay) * time.Second
	if retry <= 0 {
		retry = fallbackRetryInterval
	}
	ceiling = time.Duration(r.MaxDelay) * time.Second
	if ceiling < retry {
		ceiling = max(retry, fallbackMaxReconnect)
	}
	return retry, ceiling
}

// CoreStatus is the retained message on tagsakay/system/status.
type CoreStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) ([]byte, error) {
	return json.Marshal(CoreStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
