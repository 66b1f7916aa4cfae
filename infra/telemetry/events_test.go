package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/core/redispatch"
	"github.com/kilianp07/lastmile/infra/logger"
	infmqtt "github.com/kilianp07/lastmile/infra/mqtt"
)

type call struct {
	kind, vehicle, order string
	available           bool
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeEngine) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeEngine) SetDriverStatus(_ context.Context, vehicleID string, available bool) (redispatch.Report, error) {
	return redispatch.Report{}, f.record(call{kind: EventStatus, vehicle: vehicleID, available: available})
}

func (f *fakeEngine) MarkPickedUp(vehicleID, orderID string) error {
	return f.record(call{kind: EventPickedUp, vehicle: vehicleID, order: orderID})
}

func (f *fakeEngine) CompleteDelivery(_ context.Context, vehicleID, orderID string) error {
	return f.record(call{kind: EventDelivery, vehicle: vehicleID, order: orderID})
}

func (f *fakeEngine) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestProcess(t *testing.T) {
	eng := &fakeEngine{}
	l := &Listener{engine: eng, log: logger.NopLogger{}}
	ctx := context.Background()

	cases := []struct {
		name    string
		topic   string
		payload string
		want    call
	}{
		{"status", "vehicle/v1/events", `{"type":"status","available":false}`, call{kind: EventStatus, vehicle: "v1"}},
		{"pickup", "vehicle/v2/events", `{"type":"picked_up","order_id":"o1"}`, call{kind: EventPickedUp, vehicle: "v2", order: "o1"}},
		{"delivery with explicit id", "x", `{"type":"delivered","vehicle_id":"v3","order_id":"o2","ts":1760000000}`, call{kind: EventDelivery, vehicle: "v3", order: "o2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := l.process(ctx, tc.topic, []byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.want.kind, kind)
			calls := eng.snapshot()
			assert.Equal(t, tc.want, calls[len(calls)-1])
		})
	}
}

func TestProcessRejectsMalformed(t *testing.T) {
	eng := &fakeEngine{}
	l := &Listener{engine: eng, log: logger.NopLogger{}}
	bad := map[string]string{
		"json":         `{`,
		"no vehicle":   `{"type":"status","available":true}`,
		"no flag":      `{"type":"status","vehicle_id":"v1"}`,
		"no order":     `{"type":"delivered","vehicle_id":"v1"}`,
		"unknown type": `{"type":"refuel","vehicle_id":"v1"}`,
	}
	for name, payload := range bad {
		_, err := l.process(context.Background(), "events", []byte(payload))
		assert.Error(t, err, name)
	}
	assert.Empty(t, eng.snapshot())
}

func TestProcessPropagatesEngineErrors(t *testing.T) {
	eng := &fakeEngine{err: errors.New("unknown vehicle")}
	l := &Listener{engine: eng, log: logger.NopLogger{}}
	_, err := l.process(context.Background(), "vehicle/v9/events", []byte(`{"type":"picked_up","order_id":"o1"}`))
	assert.Error(t, err)
}

type doneToken struct{ err error }

func (d doneToken) Wait() bool                     { return true }
func (d doneToken) WaitTimeout(time.Duration) bool { return true }
func (d doneToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d doneToken) Error() error                   { return d.err }

type fakeSubscriber struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
}

func (f *fakeSubscriber) Connect() paho.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return doneToken{}
}

func (f *fakeSubscriber) Subscribe(string, byte, paho.MessageHandler) paho.Token { return doneToken{} }

func (f *fakeSubscriber) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSubscriber) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestListenerRun(t *testing.T) {
	sub := &fakeSubscriber{}
	orig := newSubscriber
	newSubscriber = func(*paho.ClientOptions) subscriber { return sub }
	defer func() { newSubscriber = orig }()

	eng := &fakeEngine{}
	l, err := NewListener(infmqtt.Config{Broker: "tcp://localhost:1883"}, eng)
	require.NoError(t, err)
	assert.Equal(t, "vehicle/+/events", l.topic)

	before := testutil.ToFloat64(eventsTotal.WithLabelValues(EventDelivery, "ok"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()

	l.onMessage(nil, fakeMessage{topic: "vehicle/v1/events", payload: []byte(`{"type":"picked_up","order_id":"o1"}`)})
	l.onMessage(nil, fakeMessage{topic: "vehicle/v1/events", payload: []byte(`{"type":"delivered","order_id":"o1"}`)})
	require.Eventually(t, func() bool { return len(eng.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	calls := eng.snapshot()
	assert.Equal(t, EventPickedUp, calls[0].kind)
	assert.Equal(t, EventDelivery, calls[1].kind)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(eventsTotal.WithLabelValues(EventDelivery, "ok")) == before+1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.True(t, sub.disconnected)
}

func TestVehicleFromTopic(t *testing.T) {
	assert.Equal(t, "v42", vehicleFromTopic("vehicle/v42/events"))
	assert.Equal(t, "", vehicleFromTopic("events"))
}
