package mqtttest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt/mqtttest"
)

func configured() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:   true,
		Broker:    config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883},
		Auth:      config.MQTTAuthConfig{Username: "reader", Password: "s3cret"},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{BaseDelayMS: 1000, MaxAttempts: 5},
	}
}

func TestBroker_RoundTrip(t *testing.T) {
	broker := mqtttest.NewBroker()
	c := mqtt.New(configured(), mqtt.WithClientFactory(broker.Factory()))

	got := make(chan string, 1)
	c.Subscribe("rfid/#", mqtt.MessageHandler(func(topic string, _ []byte) error {
		got <- topic
		return nil
	}))

	ok, err := c.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, broker.Subscribed("rfid/#"))

	require.True(t, broker.Deliver("rfid/tags", []byte(`{}`)))
	assert.Equal(t, "rfid/tags", <-got)

	require.True(t, c.Publish("rfid/command", []byte(`{"command":"ping"}`), 1, false))
	require.Eventually(t, func() bool { return len(broker.Published("rfid/command")) == 1 }, timeout, tick)
}

func TestBroker_Refuse(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.Refuse(errors.New("connection refused"))
	c := mqtt.New(configured(), mqtt.WithClientFactory(broker.Factory()))

	ok, err := c.Connect(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
	assert.False(t, broker.Deliver("rfid/tags", nil))
	c.Close()
}

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)
