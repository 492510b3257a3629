package telemetry

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"probetherm/pkg/errors"
	"probetherm/pkg/log"
)

const connectTimeout = 10 * time.Second

// MQTTPublisher publishes to a real MQTT broker at QoS 1.
type MQTTPublisher struct {
	client  paho.Client
	timeout time.Duration
}

// NewMQTTPublisher connects to the broker with auto-reconnect enabled.
func NewMQTTPublisher(broker, clientID string, publishTimeout time.Duration) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			log.Info("mqtt connected to %s", broker)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost: %v", err)
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New(errors.ErrTelemetry,
			fmt.Sprintf("mqtt connect to %s timed out", broker))
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTelemetry,
			fmt.Sprintf("mqtt connect to %s", broker))
	}
	return &MQTTPublisher{client: client, timeout: publishTimeout}, nil
}

// PublishHeaters sends the heater-states line to TopicHeaters.
func (p *MQTTPublisher) PublishHeaters(line string) error {
	payload, err := FormatHeatersPayload(line, time.Now())
	if err != nil {
		return errors.Wrap(err, errors.ErrTelemetry, "format heaters payload")
	}
	return p.publish(TopicHeaters, payload)
}

// PublishWait sends a wait lifecycle event to TopicWait.
func (p *MQTTPublisher) PublishWait(event WaitEvent) error {
	payload, err := FormatWaitPayload(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrTelemetry, "format wait payload")
	}
	return p.publish(TopicWait, payload)
}

func (p *MQTTPublisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return errors.New(errors.ErrTelemetry,
			fmt.Sprintf("publish to %s timed out", topic))
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, errors.ErrTelemetry,
			fmt.Sprintf("publish to %s", topic))
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight messages to drain.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
