package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lanternops/devicemirror/internal/metrics"
)

// registryFileName is the persisted device registry path relative to the
// user's home directory (§4.8).
const registryDir = ".mirror-controller"
const registryFileName = "devices.json"

// DeviceRecord is one persisted registry entry: enough to reconnect to a
// previously-known device without rediscovering it.
type DeviceRecord struct {
	DeviceID string `json:"device_id"`
	Address  string `json:"address"`
	Name     string `json:"name"`
}

// Registry persists known devices to disk as JSON, the way the teacher's
// config layer persists settings via plain marshal/unmarshal rather than a
// database (§4.8, "no database, one JSON file").
type Registry struct {
	mu      sync.Mutex
	path    string
	records map[string]DeviceRecord
}

// NewRegistry opens (or creates) the registry file under dir/registryDir.
// Pass "" for dir to use os.UserHomeDir().
func NewRegistry(dir string) (*Registry, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("controller: resolve home dir: %w", err)
		}
		dir = home
	}
	path := filepath.Join(dir, registryDir, registryFileName)
	r := &Registry{path: path, records: make(map[string]DeviceRecord)}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("controller: read device registry: %w", err)
	}
	var records []DeviceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("controller: parse device registry: %w", err)
	}
	for _, rec := range records {
		r.records[rec.DeviceID] = rec
	}
	return nil
}

func (r *Registry) save() error {
	records := make([]DeviceRecord, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("controller: marshal device registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("controller: create registry dir: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("controller: write device registry: %w", err)
	}
	return nil
}

// Put adds or replaces rec and persists the registry to disk.
func (r *Registry) Put(rec DeviceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.DeviceID] = rec
	return r.save()
}

// Remove deletes deviceID's record, if any, and persists the change.
func (r *Registry) Remove(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[deviceID]; !ok {
		return nil
	}
	delete(r.records, deviceID)
	return r.save()
}

// All returns every persisted device record.
func (r *Registry) All() []DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeviceRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Manager owns one DeviceSession per device plus the shared port pool, and
// fans status queries out across all of them for the controller-wide
// aggregation named in §4.8/§4.11.
type Manager struct {
	mu       sync.Mutex
	pool     *PortPool
	sessions map[string]*DeviceSession
	metrics  map[string]*metrics.StreamMetrics
}

// NewManager builds an empty Manager with its own port pool.
func NewManager() *Manager {
	return &Manager{
		pool:     NewPortPool(),
		sessions: make(map[string]*DeviceSession),
		metrics:  make(map[string]*metrics.StreamMetrics),
	}
}

// Register creates (or returns the existing) session for deviceID, wiring
// it to deployer and connector.
func (m *Manager) Register(deviceID string, deployer Deployer, connector Connector) *DeviceSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[deviceID]; ok {
		return s
	}
	s := NewDeviceSession(deviceID, m.pool, deployer, connector)
	m.sessions[deviceID] = s
	if _, ok := m.metrics[deviceID]; !ok {
		m.metrics[deviceID] = metrics.New()
	}
	return s
}

// EnsureMetrics returns deviceID's StreamMetrics collector, creating one if
// this is the first time deviceID has been seen. Callers that need a
// collector to hand to a Connector before the session itself is registered
// (e.g. to wire inbound frame counts) can call this ahead of Register.
func (m *Manager) EnsureMetrics(deviceID string) *metrics.StreamMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	mx, ok := m.metrics[deviceID]
	if !ok {
		mx = metrics.New()
		m.metrics[deviceID] = mx
	}
	return mx
}

// Session returns deviceID's session, if registered.
func (m *Manager) Session(deviceID string) (*DeviceSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Metrics returns deviceID's StreamMetrics collector, if registered.
func (m *Manager) Metrics(deviceID string) (*metrics.StreamMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mx, ok := m.metrics[deviceID]
	return mx, ok
}

// StopAll drives every registered session to Idle (§4.8's stopAll).
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*DeviceSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Stop(ctx)
	}
}

// AggregateFPS is the controller-wide view named in §4.8: total frames and
// errors across every streaming device plus the arithmetic mean of each
// device's individual fps (0 when no device is streaming).
type AggregateFPS struct {
	TotalFrameCount uint64
	TotalErrorCount uint64
	AverageFPS      float64
	PerDeviceFPS    map[string]float64
}

// Aggregate fans a snapshot request over every registered device's metrics
// and folds the results per §4.8/§4.11.
func (m *Manager) Aggregate() AggregateFPS {
	m.mu.Lock()
	ids := make([]string, 0, len(m.metrics))
	collectors := make([]*metrics.StreamMetrics, 0, len(m.metrics))
	for id, mx := range m.metrics {
		ids = append(ids, id)
		collectors = append(collectors, mx)
	}
	m.mu.Unlock()

	result := AggregateFPS{PerDeviceFPS: make(map[string]float64, len(ids))}
	var fpsSum float64
	var fpsCount int

	for i, mx := range collectors {
		snap := mx.Snapshot()
		result.TotalFrameCount += snap.FramesSent
		result.TotalErrorCount += snap.FramesDropped + snap.FramesSkipped

		fps := 0.0
		if snap.Uptime.Seconds() > 0 {
			fps = float64(snap.FramesSent) / snap.Uptime.Seconds()
		}
		result.PerDeviceFPS[ids[i]] = fps
		if fps > 0 {
			fpsSum += fps
			fpsCount++
		}
	}

	if fpsCount > 0 {
		result.AverageFPS = fpsSum / float64(fpsCount)
	}
	return result
}
