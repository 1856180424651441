package mqtt

// Subscribe registers a handler for messages on the specified pattern.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "rfid/+/status" matches any reader ID
//   - # (multi-level): "rfid/#" matches all reader topics
//
// The subscription is tracked by the Router and works while offline: the
// broker subscription is issued on the next successful connect.
//
// Parameters:
//   - pattern: The topic pattern to subscribe to
//   - h: Handler invoked for each matching message
//
// Returns:
//   - *Subscription: handle whose Unsubscribe removes only this handler
//
// Example:
//
//	sub := client.Subscribe(mqtt.TopicTagRead,
//	    mqtt.MessageHandler(func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    }))
//	defer sub.Unsubscribe()
func (c *Client) Subscribe(pattern string, h Handler) *Subscription {
	return c.router.Subscribe(pattern, h)
}

// SubscriptionCount returns the number of subscribed patterns.
//
// This can be useful for monitoring and debugging.
func (c *Client) SubscriptionCount() int {
	return len(c.router.Patterns())
}

// brokerSubscribe enqueues a broker subscription. Offline it does
// nothing; Router.Resubscribe restores it on connect.
func (c *Client) brokerSubscribe(pattern string) {
	pc := c.connection()
	if pc == nil {
		return
	}

	// nil callback: deliveries go through the default publish handler
	token := pc.Subscribe(pattern, c.qos(), nil)
	go c.watchToken("subscribe", pattern, token)
}

// brokerUnsubscribe enqueues a broker unsubscribe.
func (c *Client) brokerUnsubscribe(pattern string) {
	pc := c.connection()
	if pc == nil {
		return
	}

	token := pc.Unsubscribe(pattern)
	go c.watchToken("unsubscribe", pattern, token)
}
