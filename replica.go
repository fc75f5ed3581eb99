package ringkv

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// ReplicatorConfig sizes the replication worker pool.
type ReplicatorConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// replicaTarget receives replica deliveries. *Peer is the only production
// implementation.
type replicaTarget interface {
	Identity() Identity
	acceptReplica(Item) error
}

// DeliveryOutcome records the result of one replica delivery.
type DeliveryOutcome struct {
	Target Identity
	Err    error
}

// ReplicationStats are cumulative counters of a Replicator.
type ReplicationStats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Replicator fans committed items out to successors on a fixed pool of
// workers. Deliveries are best effort and never retried.
type Replicator struct {
	config ReplicatorConfig
	tasks  chan delivery

	closeMtx sync.RWMutex
	closed   bool
	workers  sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	log *log.Entry
}

type delivery struct {
	from   Identity
	item   Item
	target replicaTarget
	rep    *Replication
}

/* Function: 	NewReplicator
 *
 * Description:
 * 		Start the worker pool. Zero values pick a worker count from the
 * 		number of CPUs and a queue of 1024 deliveries.
 */
func NewReplicator(config ReplicatorConfig, logger *log.Entry) *Replicator {
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1024
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	r := &Replicator{
		config: config,
		tasks:  make(chan delivery, config.QueueSize),
		log:    logger.WithField("component", "replicator"),
	}
	r.workers.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go r.worker()
	}
	return r
}

func (r *Replicator) worker() {
	defer r.workers.Done()
	for d := range r.tasks {
		err := d.target.acceptReplica(d.item)
		if err != nil {
			r.failed.Add(1)
			r.log.WithFields(log.Fields{"from": d.from.Label, "to": d.target.Identity().Label, "key": d.item.Key}).
				Warnf("replica delivery failed: %v", err)
		} else {
			r.delivered.Add(1)
		}
		d.rep.finish(d.target.Identity(), err)
	}
}

/* Function: 	Replicate
 *
 * Description:
 * 		Queue one delivery per target and return immediately. A full queue
 * 		drops the delivery instead of blocking the writer. A nil Replicator
 * 		replicates nothing.
 */
func (r *Replicator) Replicate(from Identity, item Item, targets []*Peer) *Replication {
	ts := make([]replicaTarget, len(targets))
	for i, t := range targets {
		ts[i] = t
	}
	return r.replicate(from, item, ts)
}

func (r *Replicator) replicate(from Identity, item Item, targets []replicaTarget) *Replication {
	rep := newReplication(len(targets))
	if r == nil {
		for _, t := range targets {
			rep.finish(t.Identity(), ErrReplicatorClosed)
		}
		return rep
	}

	r.closeMtx.RLock()
	defer r.closeMtx.RUnlock()

	for _, t := range targets {
		if r.closed {
			rep.finish(t.Identity(), ErrReplicatorClosed)
			continue
		}
		select {
		case r.tasks <- delivery{from: from, item: item, target: t, rep: rep}:
		default:
			r.dropped.Add(1)
			r.log.WithFields(log.Fields{"from": from.Label, "to": t.Identity().Label, "key": item.Key}).
				Warn("replication queue full, dropping delivery")
			rep.finish(t.Identity(), ErrReplicationDropped)
		}
	}
	return rep
}

// Stats returns the cumulative delivery counters.
func (r *Replicator) Stats() ReplicationStats {
	return ReplicationStats{
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Close stops accepting deliveries and waits for queued ones to finish.
func (r *Replicator) Close() {
	r.closeMtx.Lock()
	if r.closed {
		r.closeMtx.Unlock()
		return
	}
	r.closed = true
	close(r.tasks)
	r.closeMtx.Unlock()

	r.workers.Wait()
}

// Replication tracks the deliveries started by one write.
type Replication struct {
	mtx      sync.Mutex
	pending  int
	outcomes []DeliveryOutcome
	done     chan struct{}
}

func newReplication(n int) *Replication {
	rep := &Replication{
		pending:  n,
		outcomes: make([]DeliveryOutcome, 0, n),
		done:     make(chan struct{}),
	}
	if n == 0 {
		close(rep.done)
	}
	return rep
}

func (rep *Replication) finish(target Identity, err error) {
	rep.mtx.Lock()
	defer rep.mtx.Unlock()
	rep.outcomes = append(rep.outcomes, DeliveryOutcome{Target: target, Err: err})
	rep.pending--
	if rep.pending == 0 {
		close(rep.done)
	}
}

// Done is closed once every delivery has finished, failed or been dropped.
func (rep *Replication) Done() <-chan struct{} { return rep.done }

// Wait blocks until Done or until ctx ends.
func (rep *Replication) Wait(ctx context.Context) error {
	select {
	case <-rep.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcomes returns the deliveries finished so far, in completion order.
func (rep *Replication) Outcomes() []DeliveryOutcome {
	rep.mtx.Lock()
	defer rep.mtx.Unlock()
	return append([]DeliveryOutcome(nil), rep.outcomes...)
}
