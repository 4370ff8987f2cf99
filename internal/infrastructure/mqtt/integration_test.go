//go:build integration

package mqtt

import (
	"sync/atomic"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_PublishIdentityEvent(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-int-publisher"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	opts := buildClientOptions(testConfig())
	opts.SetClientID("graylogic-int-subscriber")
	sub := pahomqtt.NewClient(opts)
	if tok := sub.Connect(); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect failed: %v", tok.Error())
	}
	defer sub.Disconnect(250)

	var received atomic.Int32
	done := make(chan struct{}, 1)
	tok := sub.Subscribe(Topics{}.AllIdentityEvents(), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if msg.Topic() == Topics{}.IdentityEvent("login") {
			received.Add(1)
			done <- struct{}{}
		}
	})
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("Subscribe failed: %v", tok.Error())
	}

	if err := client.Publish(Topics{}.IdentityEvent("login"), []byte(`{"kind":"login"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	if received.Load() != 1 {
		t.Errorf("received = %d, want 1", received.Load())
	}
}

func TestIntegration_CallbacksRegistered(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-int-callbacks"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var disconnected atomic.Bool
	client.SetOnConnect(func() {})
	client.SetOnDisconnect(func(error) { disconnected.Store(true) })

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}
