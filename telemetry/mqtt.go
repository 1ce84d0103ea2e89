package telemetry

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/settings"
	"google.golang.org/protobuf/proto"
)

const waitDur = 10 * time.Second

type MQTTOptions struct {
	Broker   string
	ClientID string

	// StoreDir holds in-flight messages across restarts.
	StoreDir string

	// ConfigTopic carries settings updates in the settings file format. Empty disables it.
	ConfigTopic string
}

// ConfigHandler returns a message handler that applies settings updates on top of current().
func ConfigHandler(current func() settings.Settings, apply func(settings.Settings)) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		msg.Ack()
		log.Printf("[mqtt] Received config message with ID %v", msg.MessageID())

		s, err := current().Update(bytes.NewReader(msg.Payload()))
		if err != nil {
			log.Printf("[mqtt] Ignoring config message: %v", err)
			return
		}
		apply(s)
	}
}

func onConnect(topic string, handler mqtt.MessageHandler) mqtt.OnConnectHandler {
	return func(client mqtt.Client) {
		log.Printf("[mqtt] Connected to MQTT broker")

		if topic == "" || handler == nil {
			return
		}

		if token := client.Subscribe(topic, 1, handler); !token.WaitTimeout(waitDur) {
			log.Printf("[mqtt] Subscription attempt to config topic %s timed out after %v", topic, waitDur)
		} else if token.Error() != nil {
			log.Printf("[mqtt] Failed to subscribe to config topic %s: %v", topic, token.Error())
		} else {
			log.Printf("[mqtt] Subscribed to config topic %s", topic)
		}
	}
}

func onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[mqtt] Connection to MQTT broker lost: %v", err)
}

// NewClientOptions configures a client for o. Settings messages on o.ConfigTopic go to handler.
func NewClientOptions(o MQTTOptions, handler mqtt.MessageHandler) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(onConnect(o.ConfigTopic, handler)).
		SetConnectionLostHandler(onConnectionLost)

	if o.StoreDir != "" {
		opts.SetStore(mqtt.NewFileStore(o.StoreDir))
	}

	return opts
}

// MQTTConnect connects to the broker, waiting at most ten seconds.
func MQTTConnect(o MQTTOptions, handler mqtt.MessageHandler) (mqtt.Client, error) {
	if o.StoreDir != "" {
		if err := os.MkdirAll(o.StoreDir, 0700); err != nil {
			return nil, err
		}
	}

	client := mqtt.NewClient(NewClientOptions(o, handler))
	if token := client.Connect(); !token.WaitTimeout(waitDur) {
		return nil, fmt.Errorf("MQTT connection attempt timed out after %v", waitDur)
	} else if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return client, nil
}

// Publisher sends frame summaries to a telemetry topic. Summaries that fail to publish are
// written to Spool, if set, and retried on the next successful publish.
type Publisher struct {
	Client   mqtt.Client
	Topic    string
	DeviceID string
	Spool    *Spool
}

func (p *Publisher) Publish(f *measurement.Frame) error {
	s, err := NewSummary(p.DeviceID, f)
	if err != nil {
		return err
	}

	b, err := proto.Marshal(s)
	if err != nil {
		return err
	}

	if err := p.send(b); err != nil {
		if p.Spool != nil {
			if serr := p.Spool.Save(s); serr != nil {
				return fmt.Errorf("%w (and failed to spool: %v)", err, serr)
			}
		}
		return err
	}

	if p.Spool != nil {
		if err := p.Spool.PublishAll(p.send); err != nil {
			log.Printf("[mqtt] Failed to publish spooled summaries: %v", err)
		}
	}

	return nil
}

func (p *Publisher) send(b []byte) error {
	token := p.Client.Publish(p.Topic, 1, false, b)
	if ok := token.WaitTimeout(waitDur); !ok {
		// Timed out.
		return fmt.Errorf("publish timed out after %v", waitDur)
	} else if token.Error() != nil {
		// Finished before timeout but failed to publish.
		return fmt.Errorf("failed to publish: %w", token.Error())
	}

	return nil
}
