package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config of the MQTT endpoint (RabbitMQ with the mqtt plugin in the compose setup).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	Retries  int // tentativi di connessione, default 5
}

func (c *Config) Addr() string { return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port) }

// NewConn connette il client con backoff esponenziale e lo chiude quando ctx termina.
func NewConn(ctx context.Context, cfg *Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Addr())
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("broker: connection lost: %v", err)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	retries := cfg.Retries
	if retries <= 0 {
		retries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("broker: connect %s failed: %v", cfg.Addr(), token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("broker: no connection after retries: %w", err)
	}
	log.Printf("broker: connected to %s as %s", cfg.Addr(), cfg.ClientID)

	go func() {
		<-ctx.Done()
		Close(client)
	}()
	return client, nil
}

func Close(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Println("broker: connection closed")
	}
}
