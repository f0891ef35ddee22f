// Package presence announces the engine on the bus and tracks peers so
// editor frontends can detect whether a dictation engine is alive before
// streaming events at it.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxedlabs/voxed/internal/bus"
	"github.com/voxedlabs/voxed/internal/config"
	"github.com/voxedlabs/voxed/internal/protocol"
)

// PeerInfo describes one known participant on the bus.
type PeerInfo struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type announceMessage struct {
	PeerID    string    `json:"peer_id"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	PeerID    string    `json:"peer_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker publishes announce/heartbeat messages for this node and records
// the same from peers.
type Tracker struct {
	cfg       config.NodeConfig
	log       *slog.Logger
	bus       *bus.Client
	mu        sync.RWMutex
	peers     map[string]*PeerInfo
	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	meter     metric.Meter
}

// NewTracker subscribes to the presence subjects, announces this node, and
// starts the heartbeat loop.
func NewTracker(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, log *slog.Logger) (*Tracker, error) {
	ctx, cancel := context.WithCancel(ctx)
	t := &Tracker{
		cfg:    cfg,
		log:    log.With(slog.String("component", "presence")),
		bus:    busClient,
		peers:  make(map[string]*PeerInfo),
		meter:  otel.Meter("github.com/voxedlabs/voxed/runtime"),
		cancel: cancel,
	}

	if err := t.initMetrics(); err != nil {
		t.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := t.subscribe(); err != nil {
		t.cancel()
		return nil, err
	}

	t.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go t.runHeartbeat(ctx)
	go t.monitorHealth(ctx)

	if err := t.announce(); err != nil {
		t.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	return t, nil
}

func (t *Tracker) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.heartbeat != nil {
		t.heartbeat.Stop()
	}
	for _, sub := range t.subs {
		_ = sub.Drain()
	}
}

func (t *Tracker) subscribe() error {
	conn := t.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectPresenceAnnounce, t.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	t.subs = append(t.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectPresenceHeartbeat+".*", t.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	t.subs = append(t.subs, heartbeatSub)

	return nil
}

func (t *Tracker) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.heartbeat.C:
			if err := t.publishHeartbeat(); err != nil {
				t.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (t *Tracker) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.evaluateHealth()
		}
	}
}

func (t *Tracker) announce() error {
	msg := announceMessage{
		PeerID:    t.cfg.ID,
		Role:      t.cfg.Role,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.bus.Conn().Publish(protocol.SubjectPresenceAnnounce, payload); err != nil {
		return err
	}
	t.updatePeer(msg.PeerID, msg.Role, msg.Timestamp)
	return nil
}

func (t *Tracker) publishHeartbeat() error {
	msg := heartbeatMessage{
		PeerID:    t.cfg.ID,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectPresenceHeartbeat, t.cfg.ID)
	return t.bus.Conn().Publish(subject, payload)
}

func (t *Tracker) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		t.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	t.updatePeer(announcement.PeerID, announcement.Role, announcement.Timestamp)
}

func (t *Tracker) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		t.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	t.updatePeer(hb.PeerID, "", hb.Timestamp)
}

func (t *Tracker) updatePeer(peerID, role string, timestamp time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peer, ok := t.peers[peerID]
	if !ok {
		peer = &PeerInfo{ID: peerID}
		t.peers[peerID] = peer
	}
	if role != "" {
		peer.Role = role
	}
	peer.LastSeen = timestamp
	peer.Healthy = true
}

func (t *Tracker) evaluateHealth() {
	t.mu.Lock()
	defer t.mu.Unlock()

	timeout := time.Duration(t.cfg.HeartbeatTimeout) * time.Millisecond
	now := time.Now()
	for _, peer := range t.peers {
		if now.Sub(peer.LastSeen) > timeout {
			peer.Healthy = false
		}
	}
}

// Healthy reports whether this node's own presence record is current.
func (t *Tracker) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peer, ok := t.peers[t.cfg.ID]
	if !ok {
		return false
	}
	return peer.Healthy
}

// Peers returns a snapshot of known peers, optionally filtered.
func (t *Tracker) Peers(filter func(PeerInfo) bool) []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var results []PeerInfo
	for _, peer := range t.peers {
		copy := *peer
		if filter == nil || filter(copy) {
			results = append(results, copy)
		}
	}
	return results
}

// WithRole filters peers by their announced role.
func WithRole(role string) func(PeerInfo) bool {
	return func(peer PeerInfo) bool {
		return peer.Role == role
	}
}

func (t *Tracker) initMetrics() error {
	if t.meter == nil {
		return nil
	}
	gauge, err := t.meter.Int64ObservableGauge("voxed.presence.peers", metric.WithDescription("Number of known peers"))
	if err != nil {
		return err
	}
	healthyGauge, err := t.meter.Int64ObservableGauge("voxed.presence.healthy", metric.WithDescription("Number of healthy peers"))
	if err != nil {
		return err
	}
	_, err = t.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		total, healthy := t.snapshotCounts()
		obs.ObserveInt64(gauge, total)
		obs.ObserveInt64(healthyGauge, healthy)
		return nil
	}, gauge, healthyGauge)
	return err
}

func (t *Tracker) snapshotCounts() (int64, int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total int64
	var healthy int64
	for _, peer := range t.peers {
		total++
		if peer.Healthy {
			healthy++
		}
	}
	return total, healthy
}
