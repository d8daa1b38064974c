// Package audit adapts BoltDB into an ephemeral, per-process-run ledger
// of scale actions and redistribution rounds, grounded on the teacher's
// internal/storage.DB (buckets, JSON-encoded entries, sortable
// timestamp keys). The spec excludes persisted state *across*
// supervisor restarts; this ledger is opened at a path stamped with the
// process start time and removed on clean shutdown, so it never
// outlives one run — it exists only to give an operator a queryable
// record of what happened during the current run.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sdnfabric/controlplane/internal/model"
)

const (
	bucketScale      = "scale_events"
	bucketDistribute = "distribution_rounds"
)

// ScaleEvent records one ScaleUp, ScaleDown, or HandleFailover action.
type ScaleEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"` // scale_up | scale_down | failover
	ControllerIDs []int     `json:"controller_ids"`
	Members       int       `json:"members_after"`
	Err           string    `json:"error,omitempty"`
}

// DistributionRound records one Authority Distributor round.
type DistributionRound struct {
	Timestamp  time.Time `json:"timestamp"`
	Generation int64     `json:"generation"`
	Switches   int       `json:"switches"`
	Members    int       `json:"members"`
}

// Ledger wraps a BoltDB file scoped to one process run.
type Ledger struct {
	db   *bolt.DB
	path string
}

// Open creates a fresh BoltDB file under dir, named by the process
// start time, so concurrent runs and restarts never collide or reuse
// old data.
func Open(dir string, startedAt time.Time) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: mkdir %q: %w", dir, err)
	}
	path := fmt.Sprintf("%s/run-%s.db", dir, startedAt.UTC().Format("20060102T150405.000000000Z"))

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: bolt.Open(%q): %w", path, err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketScale, bucketDistribute} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		_ = os.Remove(path)
		return nil, err
	}

	return &Ledger{db: bdb, path: path}, nil
}

// AppendScaleEvent records a scale action.
func (l *Ledger) AppendScaleEvent(e ScaleEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal scale event: %w", err)
	}
	key := []byte(e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketScale)).Put(key, data)
	})
}

// AppendDistributionRound records a redistribution round.
func (l *Ledger) AppendDistributionRound(r DistributionRound) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshal distribution round: %w", err)
	}
	key := []byte(r.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDistribute)).Put(key, data)
	})
}

// ReadScaleEvents returns every recorded scale event in chronological
// order. For operator inspection; never called on a hot path.
func (l *Ledger) ReadScaleEvents() ([]ScaleEvent, error) {
	var out []ScaleEvent
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketScale)).ForEach(func(_, v []byte) error {
			var e ScaleEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// ObserveDistribution records a completed redistribution round.
// Satisfies internal/distributor.Instrumentation. rolePostFailures and
// duration are not part of the ledger's schema and are ignored; they are
// exposed on the Prometheus side instead (internal/metrics).
func (l *Ledger) ObserveDistribution(generation int64, switches, members int, duration time.Duration, rolePostFailures int) {
	_ = l.AppendDistributionRound(DistributionRound{
		Generation: generation,
		Switches:   switches,
		Members:    members,
	})
}

// ObserveScaleUp records a completed scale-up. Satisfies
// internal/cluster.Instrumentation. A ledger write failure is logged
// nowhere and simply dropped: the ledger is a best-effort operator
// convenience, never load-bearing for the scale sequence it records.
func (l *Ledger) ObserveScaleUp(id model.ControllerId, members int) {
	_ = l.AppendScaleEvent(ScaleEvent{Kind: "scale_up", ControllerIDs: []int{int(id)}, Members: members})
}

// ObserveScaleDown records a completed scale-down.
func (l *Ledger) ObserveScaleDown(id model.ControllerId, members int) {
	_ = l.AppendScaleEvent(ScaleEvent{Kind: "scale_down", ControllerIDs: []int{int(id)}, Members: members})
}

// ObserveFailover records a failover event.
func (l *Ledger) ObserveFailover(ids []model.ControllerId, members int) {
	idsInt := make([]int, len(ids))
	for i, id := range ids {
		idsInt[i] = int(id)
	}
	_ = l.AppendScaleEvent(ScaleEvent{Kind: "failover", ControllerIDs: idsInt, Members: members})
}

// Close closes the underlying BoltDB file and removes it, since this
// ledger's data is scoped to the current run only.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return err
	}
	return os.Remove(l.path)
}
