// Package telemetry ingests driver app events published over MQTT and
// forwards them to the live re-dispatch engine.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/lastmile/core/redispatch"
	"github.com/kilianp07/lastmile/infra/logger"
	infmqtt "github.com/kilianp07/lastmile/infra/mqtt"
)

// Event types sent by the driver app.
const (
	EventStatus   = "status"
	EventPickedUp = "picked_up"
	EventDelivery = "delivered"
)

// Engine is the part of the re-dispatch engine fed by driver events.
type Engine interface {
	SetDriverStatus(ctx context.Context, vehicleID string, available bool) (redispatch.Report, error)
	MarkPickedUp(vehicleID, orderID string) error
	CompleteDelivery(ctx context.Context, vehicleID, orderID string) error
}

type subscriber interface {
	Connect() paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

var newSubscriber = func(opts *paho.ClientOptions) subscriber { return paho.NewClient(opts) }

var eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "driver_events_total",
	Help: "Driver app events received over MQTT by type and result",
}, []string{"type", "result"})

func init() {
	prometheus.MustRegister(eventsTotal)
}

type message struct {
	topic   string
	payload []byte
}

// Listener subscribes to the driver event topic. Messages are applied in
// arrival order by a single worker so that a slow pass never blocks the
// MQTT client.
type Listener struct {
	cli    subscriber
	topic  string
	engine Engine
	log    logger.Logger
	msgs   chan message
}

// NewListener connects a dedicated client for driver events.
func NewListener(cfg infmqtt.Config, engine Engine) (*Listener, error) {
	cfg.SetDefaults()
	opts, err := infmqtt.NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	id := cfg.ClientID
	if id != "" {
		id += "-events"
	} else {
		id = "events-" + uuid.NewString()
	}
	opts.SetClientID(id)
	l := &Listener{
		topic:  cfg.EventTopic,
		engine: engine,
		log:    logger.New("driver_events"),
		msgs:   make(chan message, 256),
	}
	opts.OnConnect = func(c paho.Client) {
		if token := c.Subscribe(l.topic, 1, l.onMessage); token.Wait() && token.Error() != nil {
			l.log.Errorf("subscribe %s: %v", l.topic, token.Error())
		}
	}
	cli := newSubscriber(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	l.cli = cli
	return l, nil
}

func (l *Listener) onMessage(_ paho.Client, msg paho.Message) {
	select {
	case l.msgs <- message{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		eventsTotal.WithLabelValues("unknown", "dropped").Inc()
		l.log.Warnf("event queue full, dropping message on %s", msg.Topic())
	}
}

// Run applies events until ctx is done, then disconnects.
func (l *Listener) Run(ctx context.Context) {
	defer func() {
		if l.cli != nil && l.cli.IsConnected() {
			l.cli.Disconnect(250)
		}
	}()
	for {
		select {
		case m := <-l.msgs:
			kind, err := l.process(ctx, m.topic, m.payload)
			if err != nil {
				eventsTotal.WithLabelValues(kind, "error").Inc()
				l.log.Errorf("driver event on %s: %v", m.topic, err)
				continue
			}
			eventsTotal.WithLabelValues(kind, "ok").Inc()
		case <-ctx.Done():
			return
		}
	}
}

type eventPayload struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicle_id"`
	OrderID   string `json:"order_id"`
	Available *bool  `json:"available"`
	TS        *int64 `json:"ts"`
}

func (l *Listener) process(ctx context.Context, topic string, payload []byte) (string, error) {
	var ev eventPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "unknown", fmt.Errorf("decode: %w", err)
	}
	if ev.VehicleID == "" {
		ev.VehicleID = vehicleFromTopic(topic)
	}
	if ev.VehicleID == "" {
		return ev.Type, fmt.Errorf("no vehicle id")
	}
	if ev.TS != nil {
		l.log.Debugf("%s event from %s sent at %s", ev.Type, ev.VehicleID, time.Unix(*ev.TS, 0).UTC().Format(time.RFC3339))
	}
	switch ev.Type {
	case EventStatus:
		if ev.Available == nil {
			return ev.Type, fmt.Errorf("status event without available flag")
		}
		_, err := l.engine.SetDriverStatus(ctx, ev.VehicleID, *ev.Available)
		return ev.Type, err
	case EventPickedUp:
		if ev.OrderID == "" {
			return ev.Type, fmt.Errorf("pickup event without order id")
		}
		return ev.Type, l.engine.MarkPickedUp(ev.VehicleID, ev.OrderID)
	case EventDelivery:
		if ev.OrderID == "" {
			return ev.Type, fmt.Errorf("delivery event without order id")
		}
		return ev.Type, l.engine.CompleteDelivery(ctx, ev.VehicleID, ev.OrderID)
	default:
		return "unknown", fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// vehicleFromTopic returns the segment after the leading "vehicle" level,
// e.g. "v1" for "vehicle/v1/events".
func vehicleFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return ""
}
