package social

import (
	"context"
	"errors"
	"time"

	"researchhub/backend/internal/metrics"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/store"

	"go.uber.org/zap"
)

// Registry maintains the symmetric connected relation. Each connection is stored twice,
// once in each party's connections partition, and a pair counts as connected only when
// both mirrors exist. Reads answer from the viewer's own partition.
type Registry struct {
	parts   *store.Partitions
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	// repairGrace is how old a one-sided mirror must be before RepairOrphans drops it.
	repairGrace time.Duration
}

// NewRegistry creates a Registry.
func NewRegistry(parts *store.Partitions, collector *metrics.Collector, logger *zap.Logger, repairGrace time.Duration) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		parts:       parts,
		metrics:     collector,
		logger:      logger,
		now:         time.Now,
		repairGrace: repairGrace,
	}
}

// RemoveResult reports which mirrors a removal deleted.
type RemoveResult struct {
	LocalRemoved  bool `json:"localRemoved"`
	MirrorRemoved bool `json:"mirrorRemoved"`
	// MirrorFailed is set when the peer's partition could not be written. The peer keeps
	// seeing the connection until its next reconciliation drops the orphaned mirror.
	MirrorFailed bool `json:"mirrorFailed"`
}

// IsConnected checks a's partition only.
func (r *Registry) IsConnected(ctx context.Context, a, b string) (bool, error) {
	conns, err := r.Connections(ctx, a)
	if err != nil {
		return false, err
	}
	_, ok := findConnection(conns, b)
	return ok, nil
}

// Connections returns the raw mirrors in user's partition.
func (r *Registry) Connections(ctx context.Context, user string) ([]models.Connection, error) {
	return store.LoadList[models.Connection](ctx, r.parts, store.ConnectionsKey(user))
}

// ListConnections returns the peer snapshots in the order the connections were made.
func (r *Registry) ListConnections(ctx context.Context, user string) ([]models.UserRecord, error) {
	conns, err := r.Connections(ctx, user)
	if err != nil {
		return nil, err
	}
	peers := make([]models.UserRecord, 0, len(conns))
	for _, c := range conns {
		peers = append(peers, c.Peer)
	}
	return peers, nil
}

// Connect writes the owner's mirror first and the peer's second. Both halves are
// idempotent, so retrying after a *store.PartialWriteError converges.
// It returns the mirror stored in owner's partition.
func (r *Registry) Connect(ctx context.Context, owner, peer models.UserRecord) (models.Connection, error) {
	at := r.now().UTC()
	ownerKey := store.ConnectionsKey(owner.ID)
	result := models.Connection{PeerID: peer.ID, Peer: peer, ConnectedAt: at}

	err := store.DualWrite(ctx, r.parts, ownerKey, store.ConnectionsKey(peer.ID), func(key string, conns []models.Connection) ([]models.Connection, error) {
		mirror := models.Connection{PeerID: owner.ID, Peer: owner, ConnectedAt: at}
		if key == ownerKey {
			mirror = models.Connection{PeerID: peer.ID, Peer: peer, ConnectedAt: at}
		}
		if existing, ok := findConnection(conns, mirror.PeerID); ok {
			if key == ownerKey {
				result = existing
			}
			return nil, store.ErrUnchanged
		}
		return append(conns, mirror), nil
	})
	if err != nil {
		var partial *store.PartialWriteError
		if errors.As(err, &partial) {
			r.metrics.PartialWrite("connect")
			r.logger.Warn("Connection mirror write failed; pair is one-sided",
				zap.String("owner_id", owner.ID),
				zap.String("peer_id", peer.ID),
				zap.Error(err),
			)
		}
		return models.Connection{}, err
	}
	return result, nil
}

// RemoveConnection deletes a's mirror and then b's. A failure writing b's partition does
// not undo a's removal; the result reports it and the call still succeeds.
func (r *Registry) RemoveConnection(ctx context.Context, a, b string) (RemoveResult, error) {
	var res RemoveResult

	removed, err := r.dropPeer(ctx, a, b)
	if err != nil {
		return res, err
	}
	res.LocalRemoved = removed

	removed, err = r.dropPeer(ctx, b, a)
	if err != nil {
		r.metrics.PartialWrite("remove_connection")
		r.logger.Warn("Failed to remove remote connection mirror",
			zap.String("user_id", a),
			zap.String("peer_id", b),
			zap.Error(err),
		)
		res.MirrorFailed = true
		return res, nil
	}
	res.MirrorRemoved = removed
	return res, nil
}

// RepairOrphans drops mirrors in user's partition whose counterpart is missing from the
// peer's partition. Mirrors younger than the repair grace are left alone so an in-flight
// Connect is never undone between its two writes. It returns the peers that were dropped.
// Peers whose partition cannot be read are skipped; the first such error is returned.
func (r *Registry) RepairOrphans(ctx context.Context, user string) ([]string, error) {
	conns, err := r.Connections(ctx, user)
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-r.repairGrace)
	var orphans []string
	var firstErr error
	for _, c := range conns {
		if c.ConnectedAt.After(cutoff) {
			continue
		}
		peerConns, err := r.Connections(ctx, c.PeerID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, ok := findConnection(peerConns, user); !ok {
			orphans = append(orphans, c.PeerID)
		}
	}

	var dropped []string
	for _, peerID := range orphans {
		removed, err := r.dropPeer(ctx, user, peerID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if removed {
			dropped = append(dropped, peerID)
			r.logger.Info("Dropped orphaned connection mirror",
				zap.String("user_id", user),
				zap.String("peer_id", peerID),
			)
		}
	}
	return dropped, firstErr
}

func (r *Registry) dropPeer(ctx context.Context, owner, peerID string) (bool, error) {
	removed := false
	_, err := store.UpdateList(ctx, r.parts, store.ConnectionsKey(owner), func(conns []models.Connection) ([]models.Connection, error) {
		kept := conns[:0]
		for _, c := range conns {
			if c.PeerID == peerID {
				removed = true
				continue
			}
			kept = append(kept, c)
		}
		if !removed {
			return nil, store.ErrUnchanged
		}
		return kept, nil
	})
	return removed, err
}

func findConnection(conns []models.Connection, peerID string) (models.Connection, bool) {
	for _, c := range conns {
		if c.PeerID == peerID {
			return c, true
		}
	}
	return models.Connection{}, false
}
