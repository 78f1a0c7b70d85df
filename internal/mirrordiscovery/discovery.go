// Package mirrordiscovery implements the UDP broadcast discovery protocol
// (C3): request/response JSON datagrams and liveness pruning of known peers.
package mirrordiscovery

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Magic identifies discovery datagrams on the wire (§4.3, §6.3).
const Magic = 0x41445343

// DefaultDiscoveryPort is the UDP port servers listen on for requests.
const DefaultDiscoveryPort = 8081

// Request is the controller's broadcast discovery datagram.
type Request struct {
	Type      string `json:"type"`
	Magic     uint32 `json:"magic"`
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// Response is a device's reply to a discovery Request (§4.3).
type Response struct {
	Type                string `json:"type"`
	Magic               uint32 `json:"magic"`
	DeviceID            string `json:"device_id"`
	DeviceName          string `json:"device_name"`
	DeviceModel         string `json:"device_model"`
	DeviceManufacturer  string `json:"device_manufacturer"`
	AndroidVersion      string `json:"android_version"`
	APILevel            int    `json:"api_level"`
	ScreenWidth         int    `json:"screen_width"`
	ScreenHeight        int    `json:"screen_height"`
	ServerPort          int    `json:"server_port"`
}

// DiscoveredPeer is a known device (§3.3).
type DiscoveredPeer struct {
	DeviceID     string
	Address      string
	Port         int
	Model        string
	Manufacturer string
	ScreenW      int
	ScreenH      int
	APILevel     int
	LastSeenMs   int64
	Online       bool
}

// Registry tracks discovered peers and prunes them offline after a
// liveness timeout (§4.3).
type Registry struct {
	mu      sync.Mutex
	peers   map[string]*DiscoveredPeer
	timeout time.Duration

	onPeerUpdated func(DiscoveredPeer)
	onPeerOffline func(string)

	stopCh chan struct{}
}

// NewRegistry constructs an empty Registry with the given liveness timeout
// (default 30s per §4.3).
func NewRegistry(timeout time.Duration, onPeerUpdated func(DiscoveredPeer), onPeerOffline func(string)) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{
		peers:         make(map[string]*DiscoveredPeer),
		timeout:       timeout,
		onPeerUpdated: onPeerUpdated,
		onPeerOffline: onPeerOffline,
	}
}

// Observe records or refreshes a peer from a Response received from addr.
func (r *Registry) Observe(resp Response, fromAddr string) DiscoveredPeer {
	deviceID := resp.DeviceID
	port := resp.ServerPort
	if port == 0 {
		port = 8080
	}
	if deviceID == "" {
		deviceID = fmt.Sprintf("%s:%d", fromAddr, port)
	}

	r.mu.Lock()
	peer, ok := r.peers[deviceID]
	if !ok {
		peer = &DiscoveredPeer{DeviceID: deviceID}
		r.peers[deviceID] = peer
	}
	peer.Address = fromAddr
	peer.Port = port
	peer.Model = resp.DeviceModel
	peer.Manufacturer = resp.DeviceManufacturer
	peer.ScreenW = resp.ScreenWidth
	peer.ScreenH = resp.ScreenHeight
	peer.APILevel = resp.APILevel
	peer.LastSeenMs = time.Now().UnixMilli()
	peer.Online = true
	snapshot := *peer
	r.mu.Unlock()

	if r.onPeerUpdated != nil {
		r.onPeerUpdated(snapshot)
	}
	return snapshot
}

// Peers returns a snapshot of all known peers.
func (r *Registry) Peers() []DiscoveredPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DiscoveredPeer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// StartPruning launches the once-per-second liveness sweep (§4.3). Stop
// with StopPruning.
func (r *Registry) StartPruning() {
	r.stopCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.prune()
			}
		}
	}()
}

func (r *Registry) StopPruning() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
}

func (r *Registry) prune() {
	now := time.Now().UnixMilli()
	var offlined []string

	r.mu.Lock()
	for id, p := range r.peers {
		if !p.Online {
			continue
		}
		if now-p.LastSeenMs > r.timeout.Milliseconds() {
			p.Online = false
			offlined = append(offlined, id)
		}
	}
	r.mu.Unlock()

	for _, id := range offlined {
		if r.onPeerOffline != nil {
			r.onPeerOffline(id)
		}
	}
}

// EncodeRequest/DecodeResponse marshal and unmarshal discovery datagrams.
func EncodeRequest(seq uint64) ([]byte, error) {
	req := Request{
		Type:      "discovery_request",
		Magic:     Magic,
		Sequence:  seq,
		Timestamp: time.Now().UnixNano(),
		Message:   "ANDROID_SERVER_DISCOVERY",
	}
	return json.Marshal(req)
}

func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	err := json.Unmarshal(data, &resp)
	return resp, err
}

// EncodeResponse builds a device's discovery reply.
func EncodeResponse(resp Response) ([]byte, error) {
	resp.Type = "discovery_response"
	resp.Magic = Magic
	return json.Marshal(resp)
}

// broadcastAddresses enumerates the IPv4 broadcast addresses of every
// non-loopback, up, broadcast-capable interface, plus the global broadcast
// address, per §4.3.
func broadcastAddresses() []string {
	addrs := []string{"255.255.255.255"}

	ifaces, err := net.Interfaces()
	if err != nil {
		return addrs
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := make(net.IP, len(ip4))
			mask := ipNet.Mask
			for i := range ip4 {
				bcast[i] = ip4[i] | ^mask[i]
			}
			addrs = append(addrs, bcast.String())
		}
	}
	return addrs
}
