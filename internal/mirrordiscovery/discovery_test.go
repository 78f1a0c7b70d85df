package mirrordiscovery

import (
	"encoding/json"
	"testing"
	"time"
)

func TestObserveDefaultsMissingFields(t *testing.T) {
	r := NewRegistry(time.Second, nil, nil)
	peer := r.Observe(Response{DeviceModel: "Pixel 7"}, "192.168.1.20")

	if peer.Port != 8080 {
		t.Fatalf("port = %d, want default 8080", peer.Port)
	}
	if peer.DeviceID != "192.168.1.20:8080" {
		t.Fatalf("device_id = %q, want address:port default", peer.DeviceID)
	}
	if !peer.Online {
		t.Fatal("peer should be online immediately after Observe")
	}
}

func TestObserveKeepsExplicitFields(t *testing.T) {
	r := NewRegistry(time.Second, nil, nil)
	peer := r.Observe(Response{DeviceID: "abc123", ServerPort: 9090}, "10.0.0.5")

	if peer.DeviceID != "abc123" || peer.Port != 9090 {
		t.Fatalf("peer = %+v, want explicit id/port preserved", peer)
	}
}

func TestPruneMarksOfflineAfterTimeout(t *testing.T) {
	var offlined string
	r := NewRegistry(10*time.Millisecond, nil, func(id string) { offlined = id })
	r.Observe(Response{DeviceID: "dev1"}, "10.0.0.1")

	time.Sleep(30 * time.Millisecond)
	r.prune()

	if offlined != "dev1" {
		t.Fatalf("onPeerOffline fired for %q, want dev1", offlined)
	}
	peers := r.Peers()
	if len(peers) != 1 || peers[0].Online {
		t.Fatalf("peers = %+v, want dev1 marked offline", peers)
	}
}

func TestPruneLeavesFreshPeerOnline(t *testing.T) {
	r := NewRegistry(time.Hour, nil, nil)
	r.Observe(Response{DeviceID: "dev1"}, "10.0.0.1")
	r.prune()

	peers := r.Peers()
	if len(peers) != 1 || !peers[0].Online {
		t.Fatalf("peers = %+v, want dev1 still online", peers)
	}
}

func TestEncodeRequestDecodeResponseRoundTrip(t *testing.T) {
	reqBytes, err := EncodeRequest(42)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	var decoded struct {
		Magic    uint32 `json:"magic"`
		Sequence uint64 `json:"sequence"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(reqBytes, &decoded); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if decoded.Magic != Magic || decoded.Sequence != 42 || decoded.Type != "discovery_request" {
		t.Fatalf("decoded request = %+v", decoded)
	}

	respBytes, err := EncodeResponse(Response{DeviceID: "dev1", ServerPort: 8080})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	resp, err := DecodeResponse(respBytes)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.Magic != Magic || resp.DeviceID != "dev1" || resp.Type != "discovery_response" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestBroadcastAddressesIncludesGlobalBroadcast(t *testing.T) {
	addrs := broadcastAddresses()
	found := false
	for _, a := range addrs {
		if a == "255.255.255.255" {
			found = true
		}
	}
	if !found {
		t.Fatal("broadcastAddresses() missing global broadcast address")
	}
}
