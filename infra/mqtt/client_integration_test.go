package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/lastmile/core/model"
)

func startMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()
	if v := os.Getenv("DOCKER_AVAILABLE"); v != "true" && v != "1" {
		t.Skip("DOCKER_AVAILABLE not set")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	conf := "listener 1883\nallow_anonymous true\npersistence false\n"
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
			Files: []tc.ContainerFile{{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("container start: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(ctx) })
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// driverApp acknowledges every route published for vehicleID.
func driverApp(t *testing.T, broker, vehicleID string) paho.Client {
	t.Helper()
	cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("driver-" + vehicleID))
	var err error
	for i := 0; i < 5; i++ {
		tok := cli.Connect()
		tok.Wait()
		if err = tok.Error(); err == nil {
			break
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	if err != nil {
		t.Skipf("broker not ready: %v", err)
	}
	tok := cli.Subscribe(fmt.Sprintf("vehicle/%s/route", vehicleID), 1, func(c paho.Client, m paho.Message) {
		var msg routePayload
		if err := json.Unmarshal(m.Payload(), &msg); err != nil {
			return
		}
		ack, _ := json.Marshal(map[string]string{"message_id": msg.MessageID})
		c.Publish(fmt.Sprintf("vehicle/%s/route/ack", vehicleID), 1, false, ack)
	})
	if tok.Wait() && tok.Error() != nil {
		t.Fatalf("subscribe: %v", tok.Error())
	}
	t.Cleanup(func() { cli.Disconnect(100) })
	return cli
}

func TestPublishRouteWithBroker(t *testing.T) {
	ctx := context.Background()
	broker := startMosquitto(ctx, t)
	driverApp(t, broker, "v1")

	pc, err := NewPahoClient(Config{Broker: broker, ClientID: "dispatcher"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer pc.Disconnect()

	route := model.Route{VehicleID: "v1", PickupID: "p1", Stops: []model.Stop{
		{Type: model.StopPickup, Location: model.Location{Lat: 48.85, Lng: 2.35}},
		{Type: model.StopDelivery, OrderID: "o1", Location: model.Location{Lat: 48.86, Lng: 2.36}},
	}}
	id, err := pc.PublishRoute(ctx, "req-1", route)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	ok, err := pc.WaitForAck(ctx, id, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected ack for %s, got ok=%v err=%v", id, ok, err)
	}
}
