package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/hostreporter/internal/config"
)

// QoS levels used by the agent.
const (
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
)

// Publisher sends one message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Conn is one established broker session.
type Conn interface {
	Publisher
	// Subscribe subscribes to every topic at the given QoS.
	Subscribe(ctx context.Context, topics []string, qos byte) error
	// Disconnect closes the session from the client side.
	Disconnect(ctx context.Context) error
	// Wait blocks until the session ends. It returns nil when the session
	// ended through Disconnect and an error for transport failures or a
	// server-initiated disconnect.
	Wait(ctx context.Context) error
}

// Dialer establishes a session whose inbound publishes are pushed, as
// topics, into inbound.
type Dialer interface {
	Dial(ctx context.Context, inbound *TopicQueue) (Conn, error)
}

// PahoDialer connects to the broker described by an [config.MQTTConfig].
type PahoDialer struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger
}

// NewPahoDialer returns a dialer identifying itself as clientID.
func NewPahoDialer(cfg config.MQTTConfig, clientID string, logger *slog.Logger) *PahoDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PahoDialer{cfg: cfg, clientID: clientID, logger: logger}
}

func (d *PahoDialer) tlsConfig() (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: d.cfg.Hostname,
	}
	if d.cfg.TLSCACert == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(d.cfg.TLSCACert)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", d.cfg.TLSCACert)
	}
	tc.RootCAs = pool
	return tc, nil
}

func (d *PahoDialer) dialNet(ctx context.Context) (net.Conn, error) {
	addr := d.cfg.Address()
	if !d.cfg.TLS {
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", addr)
	}
	tc, err := d.tlsConfig()
	if err != nil {
		return nil, err
	}
	td := tls.Dialer{Config: tc}
	return td.DialContext(ctx, "tcp", addr)
}

// Dial opens the network connection and performs the MQTT handshake.
func (d *PahoDialer) Dial(ctx context.Context, inbound *TopicQueue) (Conn, error) {
	nc, err := d.dialNet(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.Address(), err)
	}
	return d.handshake(ctx, nc, inbound)
}

// handshake runs CONNECT/CONNACK over nc. nc is closed on failure.
func (d *PahoDialer) handshake(ctx context.Context, nc net.Conn, inbound *TopicQueue) (Conn, error) {
	pc := &pahoConn{logger: d.logger, lost: make(chan struct{})}
	pc.client = paho.NewClient(paho.ClientConfig{
		ClientID: d.clientID,
		Conn:     packets.NewThreadSafeConn(nc),
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				d.logger.Debug("mqtt message received",
					"topic", pr.Packet.Topic,
					"payload_size", len(pr.Packet.Payload),
				)
				inbound.Push(pr.Packet.Topic)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			pc.fail(fmt.Errorf("mqtt client error: %w", err))
		},
		OnServerDisconnect: func(dc *paho.Disconnect) {
			pc.fail(fmt.Errorf("mqtt server disconnect: reason code %d", dc.ReasonCode))
		},
	})

	cp := &paho.Connect{
		ClientID:   d.clientID,
		KeepAlive:  uint16(d.cfg.KeepAlive),
		CleanStart: true,
	}
	if d.cfg.Username != "" {
		cp.Username = d.cfg.Username
		cp.UsernameFlag = true
		cp.Password = []byte(d.cfg.Password)
		cp.PasswordFlag = true
	}

	ack, err := pc.client.Connect(ctx, cp)
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	if ack.ReasonCode != 0 {
		_ = nc.Close()
		return nil, fmt.Errorf("mqtt connect refused: reason code %d", ack.ReasonCode)
	}

	d.logger.Info("mqtt connected to broker", "broker", d.cfg.Address(), "client_id", d.clientID)
	return pc, nil
}

// pahoConn adapts a connected paho.Client to [Conn].
type pahoConn struct {
	client *paho.Client
	logger *slog.Logger

	disconnecting atomic.Bool
	mu            sync.Mutex
	err           error
	// lost is closed with the first recorded failure.
	lost chan struct{}
}

// failureGrace is how long Wait holds on to a closed client for the
// failure callback, which paho runs only after shutting down.
const failureGrace = time.Second

func (c *pahoConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		close(c.lost)
	}
}

func (c *pahoConn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *pahoConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	_, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *pahoConn) Subscribe(ctx context.Context, topics []string, qos byte) error {
	if len(topics) == 0 {
		return nil
	}
	subs := make([]paho.SubscribeOptions, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, paho.SubscribeOptions{Topic: t, QoS: qos})
	}
	ack, err := c.client.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs})
	if ack != nil {
		for i, code := range ack.Reasons {
			if code >= 0x80 && i < len(topics) {
				return fmt.Errorf("subscribe %s: reason code %#x", topics[i], code)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (c *pahoConn) Disconnect(ctx context.Context) error {
	c.disconnecting.Store(true)
	if err := c.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	select {
	case <-c.client.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pahoConn) Wait(ctx context.Context) error {
	select {
	case <-c.lost:
	case <-c.client.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	// Our own Disconnect also surfaces as a read error on the closed conn.
	if c.disconnecting.Load() {
		return nil
	}

	t := time.NewTimer(failureGrace)
	defer t.Stop()
	select {
	case <-c.lost:
		return c.failure()
	case <-t.C:
		return errors.New("mqtt connection closed")
	}
}
