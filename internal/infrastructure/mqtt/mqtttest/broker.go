// Package mqtttest provides an in-memory stand-in for the paho client so
// packages built on mqtt.Client can be tested without a broker.
//
//	broker := mqtttest.NewBroker()
//	client := mqtt.New(cfg, mqtt.WithClientFactory(broker.Factory()))
//	client.Connect(ctx)
//	broker.Deliver("rfid/tags", []byte(`{"uid":"AB12CD34"}`))
package mqtttest

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
)

// Message is one publish recorded by the broker.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Broker hands out fake paho clients and records their traffic.
type Broker struct {
	mu        sync.Mutex
	refuse    error
	clients   []*client
	published []Message
	subs      map[string]int
}

// NewBroker creates a broker that accepts every connection.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]int)}
}

// Factory returns the client constructor to pass to mqtt.WithClientFactory.
func (b *Broker) Factory() mqtt.NewClientFunc {
	return func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		b.mu.Lock()
		defer b.mu.Unlock()
		c := &client{broker: b, opts: opts}
		b.clients = append(b.clients, c)
		return c
	}
}

// Refuse makes subsequent connects fail with err. nil accepts again.
func (b *Broker) Refuse(err error) {
	b.mu.Lock()
	b.refuse = err
	b.mu.Unlock()
}

// Dials returns how many clients have been created.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Deliver hands a message to the most recent connected client, the way
// paho's default publish handler would. It returns false if no client is
// connected.
func (b *Broker) Deliver(topic string, payload []byte) bool {
	c := b.current()
	if c == nil || c.opts.DefaultPublishHandler == nil {
		return false
	}
	c.opts.DefaultPublishHandler(c, message{topic: topic, payload: payload})
	return true
}

// DropConnection simulates an unexpected disconnect of the current client.
func (b *Broker) DropConnection(err error) {
	c := b.current()
	if c == nil {
		return
	}
	c.setConnected(false)
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(c, err)
	}
}

// Published returns every message published on topic, oldest first.
func (b *Broker) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Subscribed reports whether topic currently has a broker subscription.
func (b *Broker) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[topic] > 0
}

func (b *Broker) current() *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.clients) - 1; i >= 0; i-- {
		if b.clients[i].IsConnected() {
			return b.clients[i]
		}
	}
	return nil
}

// client implements pahomqtt.Client.
type client struct {
	broker *Broker
	opts   *pahomqtt.ClientOptions

	mu        sync.Mutex
	connected bool
}

func (c *client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *client) Connect() pahomqtt.Token {
	c.broker.mu.Lock()
	err := c.broker.refuse
	c.broker.mu.Unlock()

	if err == nil {
		c.setConnected(true)
	}
	return completed(err)
}

func (c *client) Disconnect(uint) { c.setConnected(false) }

func (c *client) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	}

	c.broker.mu.Lock()
	c.broker.published = append(c.broker.published, Message{Topic: topic, QoS: qos, Retained: retained, Payload: b})
	c.broker.mu.Unlock()
	return completed(nil)
}

func (c *client) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	c.broker.mu.Lock()
	c.broker.subs[topic]++
	c.broker.mu.Unlock()
	return completed(nil)
}

func (c *client) SubscribeMultiple(filters map[string]byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, cb)
	}
	return completed(nil)
}

func (c *client) Unsubscribe(topics ...string) pahomqtt.Token {
	c.broker.mu.Lock()
	for _, t := range topics {
		delete(c.broker.subs, t)
	}
	c.broker.mu.Unlock()
	return completed(nil)
}

func (c *client) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *client) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(c.opts)
}

// token is an already completed paho token.
type token struct {
	err  error
	done chan struct{}
}

func completed(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 1 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}
