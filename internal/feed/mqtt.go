package feed

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds broker settings for the live feed
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// NewMQTTClient creates and connects a paho client
func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetCleanSession(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("connected to mqtt broker", zap.String("broker", cfg.BrokerURL))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("connection lost to mqtt broker", zap.Error(err))
	}
	opts.OnReconnecting = func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Info("reconnecting to mqtt broker")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("[MQTT CONNECTION FAILED] cannot connect to %s: %w", cfg.BrokerURL, token.Error())
	}
	return client, nil
}

// MQTTSource subscribes to the live snapshot topics of all pairs
type MQTTSource struct {
	client mqtt.Client
	qos    byte
	buffer *ChannelSource
	logger *zap.Logger
}

// NewMQTTSource creates a source on a connected client
func NewMQTTSource(client mqtt.Client, qos byte, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		client: client,
		qos:    qos,
		buffer: NewChannelSource(256),
		logger: logger,
	}
}

// Subscribe subscribes to LiveTopicFilter and unsubscribes when ctx ends
func (s *MQTTSource) Subscribe(ctx context.Context) (<-chan Update, error) {
	if !s.client.IsConnected() {
		return nil, fmt.Errorf("mqtt client not connected")
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		u, err := DecodeLive(msg.Topic(), msg.Payload(), time.Now())
		if err != nil {
			s.logger.Warn("dropping live data message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
			return
		}
		if err := s.buffer.Push(ctx, u); err != nil {
			s.logger.Debug("live feed closed while delivering", zap.String("topic", msg.Topic()))
		}
	}

	token := s.client.Subscribe(LiveTopicFilter, s.qos, handler)
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", LiveTopicFilter, token.Error())
	}
	s.logger.Info("subscribed to live feed", zap.String("topic", LiveTopicFilter))

	go func() {
		<-ctx.Done()
		if token := s.client.Unsubscribe(LiveTopicFilter); token.WaitTimeout(5*time.Second) && token.Error() != nil {
			s.logger.Warn("failed to unsubscribe live feed", zap.Error(token.Error()))
		}
	}()

	return s.buffer.Subscribe(ctx)
}
