package broker

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("broker: publish timed out")

// IPublisher pubblica payload già serializzati su un topic.
type IPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Publisher shares one MQTT client across every topic.
type Publisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, timeout: timeout}
}

func (p *Publisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Connected riporta lo stato della connessione (usato da /healthz).
func (p *Publisher) Connected() bool {
	return p.client != nil && p.client.IsConnectionOpen()
}

func (p *Publisher) Close() { Close(p.client) }
