package commsutil

import (
	"testing"
)

func TestStartEmbedded_Connect(t *testing.T) {
	ns, err := StartEmbedded("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("commsutil:embedded_test - StartEmbedded failed: %v", err)
	}
	defer ns.Shutdown()

	nc, err := Connect(ns.ClientURL(), "embedded-test")
	if err != nil {
		t.Fatalf("commsutil:embedded_test - Connect failed: %v", err)
	}
	defer nc.Close()
	if !nc.IsConnected() {
		t.Error("commsutil:embedded_test - expected connected client")
	}
}
