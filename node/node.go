// Package node wires the commit path of one lattice
// participant: transaction admission, the per-key atomic
// clock tick plus value update, the coordinator branch for
// transactions that may not commit locally, and the hookup
// of the anti-entropy sender and receiver.
package node

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crypto/tls"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/pkg/errors"

	"github.com/go-lattice/lattice/algebra"
	"github.com/go-lattice/lattice/clock"
	"github.com/go-lattice/lattice/comm"
	"github.com/go-lattice/lattice/config"
	"github.com/go-lattice/lattice/engine"
	"github.com/go-lattice/lattice/schema"
	"github.com/go-lattice/lattice/txn"
)

// Variables

// ErrAborted is returned for transactions the coordinator
// aborted or timed out on. The client decides whether to
// retry; the core never retries on its own.
var ErrAborted = errors.New("transaction aborted, client may retry")

// Structs

// Metrics bundles the commit path counters.
type Metrics struct {
	LocalCommits metrics.Counter
	CoordCommits metrics.Counter
	Aborts       metrics.Counter
}

// Node bundles all state of one lattice participant.
type Node struct {
	logger        log.Logger
	name          string
	schemaVersion uint32
	admission     *txn.Admission
	engine        *engine.Engine
	coordinator   txn.Coordinator
	socket        net.Listener
	sendUpd       chan comm.Update
	incVClock     chan string
	updVClock     chan clock.Clock
	clockLock     sync.Mutex
	clockView     clock.Clock
	keyLocksLock  sync.Mutex
	keyLocks      map[string]*sync.Mutex
	metrics       *Metrics
}

// Functions

// DiscardMetrics returns a metrics bundle that counts
// into the void, for tests and metric-less deployments.
func DiscardMetrics() *Metrics {

	return &Metrics{
		LocalCommits: discard.NewCounter(),
		CoordCommits: discard.NewCounter(),
		Aborts:       discard.NewCounter(),
	}
}

// InitNode initializes the engine, restores the persisted
// vector clock, opens the sync socket and starts sender
// and receiver. A nil coordinator restricts the node to
// coordination-free transactions; a nil sink falls back to
// logging conflict records.
func InitNode(logger log.Logger, conf *config.Config, registry schema.Registry, coordinator txn.Coordinator, sink engine.ConflictSink, m *Metrics, em *engine.Metrics, downSender chan struct{}, downRecv chan struct{}) (*Node, error) {

	if m == nil {
		m = DiscardMetrics()
	}

	if sink == nil {
		sink = &engine.LogSink{Logger: logger}
	}

	classifier := schema.NewClassifier(registry)

	node := &Node{
		logger:        logger,
		name:          conf.Name,
		schemaVersion: registry.Version(),
		admission:     txn.NewAdmission(classifier),
		engine:        engine.InitEngine(logger, sink, em),
		coordinator:   coordinator,
		keyLocks:      make(map[string]*sync.Mutex),
		metrics:       m,
	}

	// All participants known to this node, including
	// itself, seed the vector clock.
	nodes := make([]string, 0, (len(conf.Peers) + 1))
	for peer := range conf.Peers {
		nodes = append(nodes, peer)
	}
	nodes = append(nodes, conf.Name)

	vclockLogPath := filepath.Join(conf.LatticeRoot, "vclock.log")

	// Restore the clock view handed out as transaction
	// snapshots. The receiver restores and owns the
	// authoritative copy from the same log.
	node.clockView = clock.New(nodes...)
	vclockLog, err := os.OpenFile(vclockLogPath, (os.O_CREATE | os.O_RDWR), 0600)
	if err != nil {
		return nil, errors.Wrap(err, "opening vector clock log failed")
	}
	err = node.clockView.Load(vclockLog)
	vclockLog.Close()
	if err != nil {
		return nil, errors.Wrap(err, "restoring vector clock failed")
	}

	// Open up the sync socket, via TLS if configured.
	if conf.CertLoc != "" {

		cert, err := tls.LoadX509KeyPair(conf.CertLoc, conf.KeyLoc)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load TLS cert and key")
		}

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}

		node.socket, err = tls.Listen("tcp", conf.ListenSyncAddr, tlsConfig)
		if err != nil {
			return nil, errors.Wrap(err, "listening for TLS sync connections failed")
		}
	} else {

		node.socket, err = net.Listen("tcp", conf.ListenSyncAddr)
		if err != nil {
			return nil, errors.Wrap(err, "listening for sync connections failed")
		}
	}

	// Start the receiver; it owns the authoritative
	// vector clock and hands admitted updates back to
	// this node in causal order.
	node.incVClock, node.updVClock, err = comm.InitReceiver(logger, conf.Name, filepath.Join(conf.LatticeRoot, "inbound.log"), vclockLogPath, node.socket, node, downRecv, nodes)
	if err != nil {
		return nil, errors.Wrap(err, "initializing receiver failed")
	}

	// Start the sender draining the durable pending log.
	var dialConfig *tls.Config
	if conf.CertLoc != "" {
		dialConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	node.sendUpd, err = comm.InitSender(logger, conf.Name, filepath.Join(conf.LatticeRoot, "pending.log"), dialConfig, conf.Peers, conf.Propagation.BatchSize, (time.Duration(conf.Propagation.FlushInterval) * time.Second), downSender)
	if err != nil {
		return nil, errors.Wrap(err, "initializing sender failed")
	}

	level.Info(logger).Log(
		"msg", "lattice node running",
		"name", conf.Name,
		"sync_addr", node.socket.Addr().String(),
		"schema_version", node.schemaVersion,
	)

	return node, nil
}

// SyncAddr returns the address the sync socket listens on.
func (node *Node) SyncAddr() string {
	return node.socket.Addr().String()
}

// Incoming implements comm.Applier: the receiver hands
// every causally admitted remote update to the merge
// decision engine.
func (node *Node) Incoming(u comm.Update) error {

	if u.SchemaVersion != node.schemaVersion {
		level.Warn(node.logger).Log(
			"msg", "applying update built against different schema version",
			"origin", u.Origin,
			"update_version", u.SchemaVersion,
			"local_version", node.schemaVersion,
		)
	}

	decision := node.engine.ApplyRemote(u)

	level.Debug(node.logger).Log(
		"msg", "processed remote update",
		"origin", u.Origin,
		"key", u.Key,
		"decision", decision.String(),
	)

	// Keep the snapshot view in step with what this node
	// has incorporated.
	node.clockLock.Lock()
	node.clockView.Fold(u.Clock)
	node.clockLock.Unlock()

	return nil
}

// Begin opens a transaction over the current clock view
// and schema version.
func (node *Node) Begin() *txn.Transaction {

	node.clockLock.Lock()
	snapshot := node.clockView.Copy()
	node.clockLock.Unlock()

	return txn.Begin(snapshot, node.schemaVersion)
}

// Commit decides the fate of a transaction: eligible ones
// commit locally, synchronously and without any network
// wait; all others go through the coordinator first.
// Aborted transactions are never applied or propagated.
func (node *Node) Commit(ctx context.Context, t *txn.Transaction) error {

	if t.State() != txn.StateBuilding {
		return errors.Errorf("cannot commit transaction %s in state %s", t.ID, t.State())
	}

	decision := node.admission.Classify(t)

	if decision == txn.RequiresCoordination {

		err := t.To(txn.StateAwaitingCoordination)
		if err != nil {
			return err
		}

		if node.coordinator == nil {

			_ = t.To(txn.StateAborted)
			node.metrics.Aborts.Add(1)

			return errors.Wrapf(ErrAborted, "transaction %s requires coordination but no coordinator is configured", t.ID)
		}

		outcome, err := node.coordinator.Coordinate(ctx, t)
		if (err != nil) || (outcome == txn.CoordAborted) {

			_ = t.To(txn.StateAborted)
			node.metrics.Aborts.Add(1)

			if err != nil {
				return errors.Wrapf(ErrAborted, "coordinator failed for transaction %s: %v", t.ID, err)
			}

			return errors.Wrapf(ErrAborted, "coordinator aborted transaction %s", t.ID)
		}

		node.metrics.CoordCommits.Add(1)
	} else {

		err := t.To(txn.StateLocalCommitted)
		if err != nil {
			return err
		}

		node.metrics.LocalCommits.Add(1)
	}

	err := node.applyOps(t)
	if err != nil {
		return err
	}

	err = t.To(txn.StatePropagating)
	if err != nil {
		return err
	}

	return t.To(txn.StateAcknowledged)
}

// applyOps folds every operation of a committed
// transaction into the engine. Per key, the clock tick
// and the value update form one atomic unit; operations
// on different keys proceed independently.
func (node *Node) applyOps(t *txn.Transaction) error {

	for _, op := range t.Ops() {

		op.Kind = node.admission.Resolve(op)
		op.Origin = node.name

		keyLock := node.keyLock(op.Table, op.Column, op.Key)
		keyLock.Lock()

		// Request an increment of this node's own vector
		// clock entry and receive the advanced clock back
		// as the commit clock of this event.
		node.incVClock <- node.name
		commitClock := <-node.updVClock

		err := node.engine.ApplyLocal(op, commitClock)
		if err != nil {
			keyLock.Unlock()
			return errors.Wrapf(err, "applying operation of transaction %s failed", t.ID)
		}

		// Abelian operations gossip the applied delta, which
		// peers fold in exactly once; folding the cumulative
		// cell value again on a concurrent relation would
		// double-count it. Idempotent and generic kinds
		// gossip the committed cell value, so a later update
		// supersedes any peer state it causally dominates.
		outValue := op.Value
		if !op.Kind.Abelian() {
			outValue, _, _ = node.engine.Lookup(op.Table, op.Column, op.Key)
		}

		node.sendUpd <- comm.Update{
			Table:         op.Table,
			Column:        op.Column,
			Key:           op.Key,
			Kind:          op.Kind,
			Value:         outValue,
			Origin:        node.name,
			Clock:         commitClock,
			SchemaVersion: node.schemaVersion,
		}

		keyLock.Unlock()

		node.clockLock.Lock()
		node.clockView.Fold(commitClock)
		node.clockLock.Unlock()
	}

	return nil
}

// keyLock returns the commit serialization lock of one
// cell, creating it on first touch.
func (node *Node) keyLock(table string, column string, key string) *sync.Mutex {

	name := table + "/" + column + "/" + key

	node.keyLocksLock.Lock()
	defer node.keyLocksLock.Unlock()

	lock, found := node.keyLocks[name]
	if !found {
		lock = new(sync.Mutex)
		node.keyLocks[name] = lock
	}

	return lock
}

// Value returns the committed value of a cell.
func (node *Node) Value(table string, column string, key string) (algebra.Value, bool) {

	value, _, found := node.engine.Lookup(table, column, key)

	return value, found
}
