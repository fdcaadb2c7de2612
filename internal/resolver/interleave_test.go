package resolver

import (
	"net"
	"testing"
)

func ipList(addrs ...string) []net.IP {
	out := make([]net.IP, len(addrs))
	for i, a := range addrs {
		out[i] = net.ParseIP(a)
	}
	return out
}

func TestInterleave_PutsFirstV6ThenFirstV4First(t *testing.T) {
	in := ipList("10.0.0.1", "10.0.0.2", "2001:db8::1", "2001:db8::2")
	out := Interleave(in)

	if !out[0].Equal(net.ParseIP("2001:db8::1")) {
		t.Fatalf("expected first IPv6 address first, got %v", out[0])
	}
	if !out[1].Equal(net.ParseIP("10.0.0.1")) {
		t.Fatalf("expected first IPv4 address second, got %v", out[1])
	}
	if len(out) != len(in) {
		t.Fatalf("expected all %d addresses preserved, got %d", len(in), len(out))
	}
}

func TestInterleave_PreservesRemainingOrder(t *testing.T) {
	in := ipList("2001:db8::1", "10.0.0.1", "10.0.0.2", "2001:db8::2")
	out := Interleave(in)

	want := ipList("2001:db8::1", "10.0.0.1", "10.0.0.2", "2001:db8::2")
	for i := range want {
		if !out[i].Equal(want[i]) {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestInterleave_SingleElementUnchanged(t *testing.T) {
	in := ipList("10.0.0.1")
	out := Interleave(in)
	if len(out) != 1 || !out[0].Equal(in[0]) {
		t.Fatalf("expected a single-element list to pass through unchanged, got %v", out)
	}
}

func TestInterleave_SingleFamilyUnaffected(t *testing.T) {
	in := ipList("10.0.0.1", "10.0.0.2", "10.0.0.3")
	out := Interleave(in)
	for i := range in {
		if !out[i].Equal(in[i]) {
			t.Fatalf("a single-family list should pass through in original order, index %d: got %v want %v", i, out[i], in[i])
		}
	}
}
