package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the broker connection. Client certificates are
// optional; when CACert is set the connection uses TLS.
type MQTTConfig struct {
	Host        string
	Port        int
	ClientID    string
	CACert      string
	ClientCert  string
	ClientKey   string
	TopicPrefix string
}

const mqttTimeout = 5 * time.Second

// MQTTPublisher publishes events as non-retained QoS 1 messages.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	logger *log.Logger
}

// NewMQTTPublisher connects to the broker. Reconnects are handled by the client.
func NewMQTTPublisher(cfg MQTTConfig, logger *log.Logger) (*MQTTPublisher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mqtt host is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[mqtt] ", log.LstdFlags)
	}

	tlsConfig, err := mqttTLS(cfg)
	if err != nil {
		return nil, err
	}
	scheme := "tcp"
	if tlsConfig != nil {
		scheme = "ssl"
	}
	port := cfg.Port
	if port == 0 {
		port = 1883
		if tlsConfig != nil {
			port = 8883
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Printf("MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Printf("MQTT connection established")
		})
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		// SetConnectRetry keeps trying in the background.
		logger.Printf("MQTT broker %s not reachable yet, retrying", cfg.Host)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &MQTTPublisher{client: client, prefix: cfg.TopicPrefix, logger: logger}, nil
}

func mqttTLS(cfg MQTTConfig) (*tls.Config, error) {
	if cfg.CACert == "" {
		return nil, nil
	}
	caCert, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("read mqtt CA file %s: %w", cfg.CACert, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
	}
	tc := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if cfg.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load mqtt client key pair: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Topic returns the topic an event type is published on, e.g. closet/tag/bound.
func (p *MQTTPublisher) Topic(t Type) string {
	return route(p.prefix, "/", t)
}

func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	token := p.client.Publish(p.Topic(e.Type), 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", e.Type, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
