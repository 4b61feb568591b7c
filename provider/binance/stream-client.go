package binance

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/recws-org/recws"
	"github.com/sirupsen/logrus"
)

const pingDelay = time.Minute * 9

var logger = logrus.WithField("component", "binance")

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

type webSocketRequestModel struct {
	ReqId  int      `json:"id"`
	Params []string `json:"params"`
	Method string   `json:"method"`
}

// Subscription is one topic's raw message feed on a shared connection.
type Subscription struct {
	Stream      chan []byte
	Topic       string
	Unsubscribe func()
}

// StreamClient multiplexes topic subscriptions over one reconnecting
// websocket connection to the combined-stream endpoint.
type StreamClient struct {
	endpoint string
	conn     *recws.RecConn

	mu            sync.Mutex
	subscriptions map[string]*subscriptionEntry

	closed    chan struct{}
	closeOnce sync.Once
}

func NewStreamClient(endpoint string) *StreamClient {
	return &StreamClient{
		endpoint:      endpoint,
		subscriptions: make(map[string]*subscriptionEntry),
		closed:        make(chan struct{}),
	}
}

func (c *StreamClient) Connect() error {
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: pingDelay,
		NonVerbose:       true,
	}

	conn.Dial(c.endpoint, nil)
	c.conn = conn

	go c.read()
	return nil
}

func (c *StreamClient) Subscribe(topic string) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if ok {
		entry.subscriberCount++
	} else {
		entry = &subscriptionEntry{
			ch:              make(chan []byte, 64),
			subscriberCount: 1,
		}
		c.subscriptions[topic] = entry

		err := c.conn.WriteJSON(webSocketRequestModel{
			Method: "SUBSCRIBE",
			ReqId:  randomReqID(),
			Params: []string{topic},
		})
		if err != nil {
			delete(c.subscriptions, topic)
			return nil, fmt.Errorf("failed to send subscribe msg for topic=%s: %w", topic, err)
		}
	}

	return &Subscription{
		Stream: entry.ch,
		Topic:  topic,
		Unsubscribe: func() {
			c.unsubscribe(topic)
		},
	}, nil
}

func (c *StreamClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}

	if entry.subscriberCount > 1 {
		entry.subscriberCount--
		return
	}

	// The channel is left open for in-flight readers; dropping the entry stops
	// further dispatch.
	delete(c.subscriptions, topic)

	err := c.conn.WriteJSON(webSocketRequestModel{
		Method: "UNSUBSCRIBE",
		ReqId:  randomReqID(),
		Params: []string{topic},
	})
	if err != nil {
		logger.Warnf("failed to send unsubscribe msg for topic=%s: %s", topic, err)
	}
}

func (c *StreamClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// Done is closed when the client has been shut down.
func (c *StreamClient) Done() <-chan struct{} {
	return c.closed
}

type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (c *StreamClient) read() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		var message combinedStreamMessage
		if err := json.Unmarshal(msg, &message); err != nil {
			logger.Warnf("failed to decode stream message: %s", err)
			continue
		}
		if message.Stream == "" {
			// subscribe/unsubscribe ack
			continue
		}

		c.mu.Lock()
		entry, ok := c.subscriptions[message.Stream]
		c.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case entry.ch <- message.Data:
		default:
			logger.Warnf("slow consumer on topic %s, dropping message", message.Stream)
		}
	}
}

func randomReqID() int {
	min := 10000
	max := 9999999
	return min + rand.Intn(max-min)
}
