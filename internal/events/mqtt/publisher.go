// internal/events/mqtt/publisher.go
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"maus-bus/internal/events"
)

// Options configures the broker connection and publish parameters.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retain         bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Client is the part of paho.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher forwards bus events to an MQTT broker as JSON, one topic per
// event type.
type Publisher struct {
	client Client
	opts   Options
	logger *zap.Logger
}

// Connect dials the broker and returns a publisher bound to it.
func Connect(opts Options, logger *zap.Logger) (*Publisher, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}

	client := paho.NewClient(p)
	tok := client.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return NewPublisher(client, opts, logger), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client Client, opts Options, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")
	return &Publisher{client: client, opts: opts, logger: logger.Named("mqtt")}
}

// Topic returns <prefix>/<event type>.
func (p *Publisher) Topic(t events.Type) string {
	if p.opts.TopicPrefix == "" {
		return string(t)
	}
	return p.opts.TopicPrefix + "/" + string(t)
}

// Publish sends a single event and waits for the broker handoff.
func (p *Publisher) Publish(e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	tok := p.client.Publish(p.Topic(e.Type), p.opts.QoS, p.opts.Retain, body)
	if !tok.WaitTimeout(p.opts.PublishTimeout) {
		return fmt.Errorf("mqtt publish timeout after %s", p.opts.PublishTimeout)
	}
	return tok.Error()
}

// Run forwards events until the channel closes or ctx is done. Publish
// failures are logged and do not stop forwarding.
func (p *Publisher) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(e); err != nil {
				p.logger.Warn("Failed to publish event",
					zap.String("event_type", string(e.Type)),
					zap.Error(err),
				)
			}
		}
	}
}

// Close disconnects, allowing 250ms for in-flight messages.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
