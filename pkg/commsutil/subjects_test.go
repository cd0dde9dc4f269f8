package commsutil

import "testing"

func TestBuildServiceSubject(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		service string
		major   int
		want    string
	}{
		{"default prefix", "", "inventory", 1, "svc.inventory.v1"},
		{"custom prefix", "sandbox", "access", 2, "sandbox.access.v2"},
		{"dotted name", "svc", "shop.inventory", 3, "svc.shop_inventory.v3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildServiceSubject(tt.prefix, tt.service, tt.major)
			if got != tt.want {
				t.Errorf("BuildServiceSubject(%q, %q, %d) = %q, want %q", tt.prefix, tt.service, tt.major, got, tt.want)
			}
		})
	}
}

func TestBuildCallEventSubject(t *testing.T) {
	if got := BuildCallEventSubject("inventory", "addItem"); got != "rpc.calls.inventory.addItem" {
		t.Errorf("BuildCallEventSubject() = %q", got)
	}
}
