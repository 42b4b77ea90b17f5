package virtual

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	Topic          string        `mapstructure:"topic"`
	ClientID       string        `mapstructure:"client-id"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	KeepAlive      uint16        `mapstructure:"keep-alive"`
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "localhost:1883",
		Topic:          "iot_logger",
		ClientID:       "tc2-hat-sensors",
		ConnectTimeout: 5 * time.Second,
		KeepAlive:      60,
	}
}

// MQTTSource keeps the newest message published on a topic.
type MQTTSource struct {
	latest
	client *paho.Client
	conn   net.Conn
}

// DialMQTT connects to the broker and subscribes to the topic. The client
// id gets a random suffix so several readers can share a broker.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTSource, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("could not connect to MQTT broker at %s: %w", cfg.Broker, err)
	}

	s := &MQTTSource{conn: conn}
	clientID := cfg.ClientID + "-" + uuid.NewString()
	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				s.receive(pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			log.Warn("MQTT client error: ", err)
			s.fail(fmt.Errorf("%w: %v", ErrDisconnected, err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			log.Warnf("MQTT broker disconnected, reason code %d", d.ReasonCode)
			s.fail(fmt.Errorf("%w: broker sent disconnect", ErrDisconnected))
		},
	})

	ca, err := s.client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		CleanStart: true,
		KeepAlive:  cfg.KeepAlive,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("MQTT connect to %s: %w", cfg.Broker, err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("MQTT connect to %s refused, reason code %d", cfg.Broker, ca.ReasonCode)
	}

	if _, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: cfg.Topic, QoS: 0}},
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", cfg.Topic, err)
	}
	log.Infof("Subscribed to '%s' on %s", cfg.Topic, cfg.Broker)
	return s, nil
}

func (s *MQTTSource) Close() error {
	s.fail(ErrDisconnected)
	if err := s.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return s.conn.Close()
	}
	return nil
}
