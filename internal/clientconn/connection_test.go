package clientconn

import (
	"net"
	"testing"
	"time"

	"github.com/lanternops/devicemirror/pkg/wireproto"
)

func TestConnectDispatchesMetadata(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		pkt, _ := wireproto.EncodeMetadataPacket(wireproto.Metadata{Model: "d1", ScreenWidth: 100, ScreenHeight: 200, FPS: 30}, 1, 0)
		conn.Write(pkt)
		time.Sleep(200 * time.Millisecond)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	got := make(chan wireproto.Metadata, 1)
	c := New("127.0.0.1", addr.Port, DefaultConfig(), Handlers{
		OnMetadata: func(m wireproto.Metadata) { got <- m },
	})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	select {
	case m := <-got:
		if m.Model != "d1" {
			t.Errorf("Model = %q, want d1", m.Model)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for metadata dispatch")
	}
	<-serverDone
}

func TestReconnectBudgetExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close() // closed port: every dial fails

	cfg := Config{
		ConnectTimeout:       200 * time.Millisecond,
		HeartbeatInterval:    5 * time.Second,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       50 * time.Millisecond,
	}
	c := New("127.0.0.1", addr.Port, cfg, Handlers{})

	start := time.Now()
	err = c.RunWithReconnect(nil)
	elapsed := time.Since(start)

	if err != ErrReconnectExhausted {
		t.Fatalf("err = %v, want ErrReconnectExhausted", err)
	}
	if elapsed < 2*cfg.ReconnectDelay {
		t.Errorf("elapsed %v too short for 3 attempts at %v delay", elapsed, cfg.ReconnectDelay)
	}
}

func TestStateTransitionsRequireValidPreconditions(t *testing.T) {
	c := New("127.0.0.1", 9999, DefaultConfig(), Handlers{})
	if err := c.RequestStream(); err == nil {
		t.Fatalf("expected error requesting stream while Disconnected")
	}
}
