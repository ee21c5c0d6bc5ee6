//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestConnect(t *testing.T) {
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestScanResultRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "tagsakay-test-pub"
	pub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	cfg.Broker.ClientID = "tagsakay-test-sub"
	sub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	err = sub.Subscribe(Topics{}.AllScanEvents(), 1, func(topic string, _ []byte) error {
		received <- topic
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishJSON(Topics{}.ScanEvent("success"), map[string]string{"tagId": "TEST001"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case topic := <-received:
		if topic != "tagsakay/scan/success" {
			t.Errorf("received topic = %q", topic)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for scan event")
	}
}
