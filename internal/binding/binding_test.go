package binding

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
)

// startResponder answers Binding requests with the sender's address.
func startResponder(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil || req.Type != stun.BindingRequest {
				continue
			}
			ua := addr.(*net.UDPAddr)
			resp, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: ua.IP, Port: ua.Port},
				stun.NewSoftware("test-responder"),
				stun.Fingerprint,
			)
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(resp.Raw, addr)
		}
	}()

	return fmt.Sprintf("stun:%s", conn.LocalAddr().String())
}

func TestObserve_MappedAddress(t *testing.T) {
	server := startResponder(t)

	res := Observe(context.Background(), []string{server}, 2*time.Second)
	if len(res) != 1 {
		t.Fatalf("results = %d", len(res))
	}
	r := res[0]
	if !r.OK() {
		t.Fatalf("result = %+v", r)
	}
	if r.Address != "127.0.0.1" || r.Port == 0 {
		t.Fatalf("mapped = %s", r.Mapped())
	}
	if r.Software != "test-responder" {
		t.Fatalf("software = %q", r.Software)
	}
}

func TestObserve_BadURI(t *testing.T) {
	res := Observe(context.Background(), []string{"http://example.org", "turn:example.org:3478", ""}, time.Second)
	if len(res) != 2 {
		t.Fatalf("results = %d, blank servers are skipped", len(res))
	}
	for _, r := range res {
		if r.OK() || r.Error == "" {
			t.Fatalf("result = %+v", r)
		}
	}
}

func TestObserve_NoResponse(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	res := Observe(context.Background(), []string{"stun:" + conn.LocalAddr().String()}, 100*time.Millisecond)
	if res[0].OK() || res[0].Error == "" {
		t.Fatalf("result = %+v", res[0])
	}
}

func TestResult_Mapped(t *testing.T) {
	if got := (Result{Address: "2001:db8::1", Port: 3478}).Mapped(); got != "[2001:db8::1]:3478" {
		t.Fatalf("Mapped = %s", got)
	}
	if got := (Result{}).Mapped(); got != "" {
		t.Fatalf("Mapped = %s", got)
	}
}
