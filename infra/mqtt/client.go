package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremqtt "github.com/kilianp07/lastmile/core/mqtt"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// RouteTopic is a format string receiving the vehicle id.
	RouteTopic string          `json:"route_topic"`
	AlertTopic string          `json:"alert_topic"`
	AckTopic   string          `json:"ack_topic"`
	// EventTopic carries driver app events, one level wildcard for the
	// vehicle id.
	EventTopic string          `json:"event_topic"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	AuthMethod string          `json:"auth_method"`
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	// AckTTLSeconds bounds how long an unacknowledged route id is tracked.
	AckTTLSeconds int `json:"ack_ttl_seconds"`
	BackoffMS  int             `json:"backoff_ms"`
	TLSConfig  *tls.Config     `json:"-"`
}

// SetDefaults fills topics and retry settings.
func (c *Config) SetDefaults() {
	if c.RouteTopic == "" {
		c.RouteTopic = "vehicle/%s/route"
	}
	if c.AlertTopic == "" {
		c.AlertTopic = "dispatch/alerts"
	}
	if c.AckTopic == "" {
		c.AckTopic = "vehicle/+/route/ack"
	}
	if c.EventTopic == "" {
		c.EventTopic = "vehicle/+/events"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.AckTTLSeconds <= 0 {
		c.AckTTLSeconds = 300
	}
}

// Validate checks the broker address and the route topic template.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if strings.Count(c.RouteTopic, "%s") != 1 {
		return fmt.Errorf("mqtt: route_topic must contain exactly one %%s")
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient implements core/mqtt.Publisher using Eclipse Paho.
type PahoClient struct {
	cli        pahoClient
	routeTopic string
	alertTopic string
	ackTopic   string
	qos        map[string]byte

	mu         sync.Mutex
	ackChans   map[string]*pendingAck
	ackTTL     time.Duration
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

var _ coremqtt.Publisher = (*PahoClient)(nil)

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker and subscribes to the route
// acknowledgement topic.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		routeTopic: cfg.RouteTopic,
		alertTopic: cfg.AlertTopic,
		ackTopic:   cfg.AckTopic,
		ackChans:   make(map[string]*pendingAck),
		ackTTL:     time.Duration(cfg.AckTTLSeconds) * time.Second,
		logger:     log,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		now:        time.Now,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(pc.ackTopic, pc.qosFor("ack"), pc.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

func (p *PahoClient) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		p.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	p.mu.Lock()
	pa, ok := p.ackChans[m.MessageID]
	if ok {
		select {
		case pa.ch <- struct{}{}:
		default:
		}
		p.logger.Debugf("received ack %s", m.MessageID)
	}
	p.mu.Unlock()
}

type stopPayload struct {
	Type        model.StopType `json:"type"`
	OrderID     string         `json:"order_id,omitempty"`
	Lat         float64        `json:"lat"`
	Lng         float64        `json:"lng"`
	ArrivalTime string         `json:"arrival_time"`
	Locked      bool           `json:"locked,omitempty"`
}

type routePayload struct {
	MessageID string        `json:"message_id"`
	RequestID string        `json:"request_id"`
	VehicleID string        `json:"vehicle_id"`
	PickupID  string        `json:"pickup_id"`
	TotalLoad float64       `json:"total_load"`
	Stops     []stopPayload `json:"stops"`
	Timestamp int64         `json:"timestamp"`
}

// PublishRoute sends r to the vehicle topic and returns the message id the
// driver app acknowledges.
func (p *PahoClient) PublishRoute(ctx context.Context, requestID string, r model.Route) (string, error) {
	msgID := uuid.NewString()
	msg := routePayload{
		MessageID: msgID,
		RequestID: requestID,
		VehicleID: r.VehicleID,
		PickupID:  r.PickupID,
		TotalLoad: r.TotalLoad,
		Stops:     make([]stopPayload, 0, len(r.Stops)),
		Timestamp: p.now().UnixMilli(),
	}
	for _, s := range r.Stops {
		msg.Stops = append(msg.Stops, stopPayload{
			Type:        s.Type,
			OrderID:     s.OrderID,
			Lat:         s.Location.Lat,
			Lng:         s.Location.Lng,
			ArrivalTime: s.ArrivalTime,
			Locked:      s.Locked,
		})
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	topic := fmt.Sprintf(p.routeTopic, r.VehicleID)
	p.mu.Lock()
	p.sweepAcksLocked()
	p.ackChans[msgID] = &pendingAck{ch: make(chan struct{}, 1), sent: p.now()}
	p.mu.Unlock()
	if err := p.publish(ctx, topic, p.qosFor("route"), payload); err != nil {
		p.mu.Lock()
		delete(p.ackChans, msgID)
		p.mu.Unlock()
		return "", fmt.Errorf("publish route %s: %w", r.VehicleID, err)
	}
	p.logger.Infof("sent route %s to %s", msgID, topic)
	return msgID, nil
}

type pendingAck struct {
	ch   chan struct{}
	sent time.Time
}

// sweepAcksLocked forgets route ids older than the ack TTL, acknowledged or
// not. Callers hold p.mu.
func (p *PahoClient) sweepAcksLocked() {
	cutoff := p.now().Add(-p.ackTTL)
	for id, pa := range p.ackChans {
		if pa.sent.Before(cutoff) {
			delete(p.ackChans, id)
		}
	}
}

// pendingAcks returns the number of tracked route ids.
func (p *PahoClient) pendingAcks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ackChans)
}

// PublishAlert sends an at-risk alert to the supervisor topic.
func (p *PahoClient) PublishAlert(ctx context.Context, a model.AtRiskAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.alertTopic, p.qosFor("alert"), payload); err != nil {
		return fmt.Errorf("publish alert %s: %w", a.OrderID, err)
	}
	return nil
}

// publish retries with exponential backoff until ctx is done.
func (p *PahoClient) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if p.cli == nil || !p.cli.IsConnected() {
		return coremqtt.ErrNotConnected
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// WaitForAck blocks until the driver acknowledges messageID, the timeout
// elapses or ctx is done.
func (p *PahoClient) WaitForAck(ctx context.Context, messageID string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	var ch chan struct{}
	if pa := p.ackChans[messageID]; pa != nil {
		ch = pa.ch
	}
	p.mu.Unlock()
	if ch == nil {
		return false, fmt.Errorf("unknown message %s", messageID)
	}
	defer func() {
		p.mu.Lock()
		delete(p.ackChans, messageID)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, fmt.Errorf("message %s: %w", messageID, coremqtt.ErrAckTimeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
