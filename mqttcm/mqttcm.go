package mqttcm

// "mqtt connection manager"

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/version"
)

const (
	statusExpiry    = 24 * time.Hour
	statusRepublish = time.Hour
)

// Config has the broker settings.
type Config struct {
	// Broker is the broker URL, mqtt://host:1883 or mqtts://host:8883.
	Broker   string
	Username string
	Password string
}

// Setup connects to the broker. The connection is maintained in the
// background until ctx is done. When statusTopic is set the agent
// publishes a retained online status there, refreshed before it expires,
// and leaves an offline will message.
func Setup(ctx context.Context, name, statusTopic string, cfg Config) (*autopaho.ConnectionManager, error) {
	mqttcfg, err := clientConfig(ctx, name, statusTopic, cfg)
	if err != nil {
		return nil, err
	}

	cm, err := autopaho.NewConnection(ctx, mqttcfg)
	if err != nil {
		return cm, err
	}

	if len(statusTopic) > 0 {
		go func() {
			ticker := time.NewTicker(statusRepublish)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					publishStatus(ctx, cm, name, statusTopic)
				case <-cm.Done():
					return
				}
			}
		}()
	}

	return cm, nil
}

func clientConfig(ctx context.Context, name, statusTopic string, cfg Config) (autopaho.ClientConfig, error) {
	log := logger.FromContext(ctx).WithGroup("mqtt")

	broker, err := url.Parse(cfg.Broker)
	if err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("mqtt broker url: %w", err)
	}
	switch broker.Scheme {
	case "mqtt", "mqtts", "tcp", "ssl", "tls", "ws", "wss":
	default:
		return autopaho.ClientConfig{}, fmt.Errorf("mqtt broker url: unsupported scheme %q", broker.Scheme)
	}

	log.InfoContext(ctx, "mqtt", "clientID", name, "broker", broker.Redacted())

	mqttcfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		KeepAlive:                     120,

		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),

		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			log.Info("mqtt connection up")
			if len(statusTopic) > 0 {
				publishStatus(ctx, cm, name, statusTopic)
			}
		},
		OnConnectError: func(err error) {
			log.Error("mqtt connect", "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: name,
			OnClientError: func(err error) {
				log.Error("mqtt client error", "err", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					log.Error("mqtt server requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					log.Error("mqtt server requested disconnect", "reasonCode", d.ReasonCode)
				}
			},
		},
	}

	if len(statusTopic) > 0 {
		offline, err := StatusMessageJSON(name, false)
		if err != nil {
			return autopaho.ClientConfig{}, fmt.Errorf("status message: %w", err)
		}
		mqttcfg.WillMessage = &paho.WillMessage{
			Retain:  true,
			Topic:   statusTopic,
			Payload: offline,
		}
		mqttcfg.WillProperties = &paho.WillProperties{
			WillDelayInterval: paho.Uint32(30),
			MessageExpiry:     paho.Uint32(uint32(statusExpiry.Seconds())),
		}
	}

	errlog := newStdLog("mqtt error", log)
	mqttcfg.Errors = errlog
	mqttcfg.PahoErrors = errlog

	return mqttcfg, nil
}

func publishStatus(ctx context.Context, client Client, name, topic string) {
	log := logger.FromContext(ctx).WithGroup("mqtt")

	msg, err := StatusMessageJSON(name, true)
	if err != nil {
		log.Warn("mqtt status error", "err", err)
		return
	}

	log.Debug("sending mqtt status message", "topic", topic)
	_, err = client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: msg,
		QoS:     1,
		Retain:  true,
		Properties: &paho.PublishProperties{
			MessageExpiry: paho.Uint32(uint32(statusExpiry.Seconds())),
		},
	})
	if err != nil {
		log.Warn("mqtt status publish error", "err", err)
	}
}

// StatusMessage is the agent's retained online/offline announcement.
type StatusMessage struct {
	Name    string    `json:"name"`
	Online  bool      `json:"online"`
	Version string    `json:"version"`
	Updated time.Time `json:"updated"`
}

func StatusMessageJSON(name string, online bool) ([]byte, error) {
	return json.Marshal(&StatusMessage{
		Name:    name,
		Online:  online,
		Version: version.Version(),
		Updated: time.Now().Truncate(time.Second),
	})
}
