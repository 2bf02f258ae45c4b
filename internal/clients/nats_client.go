package clients

import (
	"fmt"
	"time"

	"crosspay/internal/config"
	"crosspay/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient wraps the connection used for asynchronous payment-detection
// and execution-result events.
type NATSClient struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewNATSClient connects to the configured NATS server.
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(time.Duration(cfg.Timeout)*time.Second),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait)*time.Second),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.WithError(err).Warn("nats disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Info("nats reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	metrics.NATSConnectionStatus.Set(1)
	return &NATSClient{conn: conn}, nil
}

// Subscribe registers a handler for a subject with a queue group, so
// multiple engine instances share the event load.
func (c *NATSClient) Subscribe(subject, queue string, handler nats.MsgHandler) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	logrus.WithField("subject", subject).Info("nats subscription active")
	return nil
}

// Close drains subscriptions and closes the connection.
func (c *NATSClient) Close() {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
