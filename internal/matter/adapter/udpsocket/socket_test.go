package udpsocket

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestInterfacesReturnsConfiguredNames(t *testing.T) {
	s, err := New(discardLog(), Config{Interfaces: []string{"lo"}, EnableIPv4: true})
	if err != nil {
		t.Skipf("multicast unavailable in this environment: %v", err)
	}
	defer s.Close()

	ifaces := s.Interfaces()
	if len(ifaces) != 1 || ifaces[0] != "lo" {
		t.Fatalf("got %v, want [lo]", ifaces)
	}
}

func TestSendRejectsUnknownInterface(t *testing.T) {
	s, err := New(discardLog(), Config{Interfaces: []string{"lo"}, EnableIPv4: true})
	if err != nil {
		t.Skipf("multicast unavailable in this environment: %v", err)
	}
	defer s.Close()

	if err := s.Send(context.Background(), "does-not-exist", []byte("x")); err == nil {
		t.Fatal("expected an error sending on an unknown interface")
	}
}

func TestLoopbackSendIsReceivedOnSameInterface(t *testing.T) {
	s, err := New(discardLog(), Config{Interfaces: []string{"lo"}, EnableIPv4: true})
	if err != nil {
		t.Skipf("multicast unavailable in this environment: %v", err)
	}
	defer s.Close()

	payload := []byte("matter-mdns-probe")
	if err := s.Send(context.Background(), "lo", payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case pkt := <-s.Packets():
		if string(pkt.Data) != string(payload) {
			t.Fatalf("got payload %q, want %q", pkt.Data, payload)
		}
		if pkt.Interface != "lo" {
			t.Fatalf("got interface %q, want lo", pkt.Interface)
		}
	case <-time.After(2 * time.Second):
		t.Skip("loopback multicast delivery did not arrive in this environment")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := New(discardLog(), Config{Interfaces: []string{"lo"}, EnableIPv4: true})
	if err != nil {
		t.Skipf("multicast unavailable in this environment: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func discardLog() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
