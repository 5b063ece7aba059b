// Package dispatch wires flow.TopicFlow to a live Kafka consumer group,
// grounded on the teacher library's eventSourceConsumer
// (source_consumer.go): one kgo.Client per topic's consumer group, assign/
// revoke callbacks that start and stop per-partition workers, and a poll
// loop that fans fetched records out to those workers. Where the teacher
// hands batches to a channel-driven partitionWorker goroutine, dispatch
// hands them directly to TopicFlow.ProcessBatch on that same per-partition
// goroutine, since flow's single-logical-thread-per-partition model needs
// nothing more than a serial channel consumer.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"

	"github.com/johanmast/kafka-flow/cluster"
	"github.com/johanmast/kafka-flow/flow"
)

// Dispatcher runs a consumer group for a single topic, feeding a
// flow.TopicFlow[S] from the partitions currently assigned to this member.
type Dispatcher[S any] struct {
	topic   string
	groupID string

	client *kgo.Client
	admin  *kadm.Client

	topicFlow *flow.TopicFlow[S]
	// instanceID is passed as the static group instance ID (KIP-345). New
	// generates a fresh random UUID for every Dispatcher, so a restarted
	// process joins under a new instance ID.
	instanceID string

	mu           sync.Mutex
	assigned     *btree.BTreeG[int32]
	workers      map[int32]*partitionWorker
	pending      map[flow.TopicPartition]int64
	commitOpts   commitOptions
	tickInterval time.Duration

	logger flow.Logger
	ctx    context.Context
	cancel context.CancelFunc
	stopWg sync.WaitGroup
}

type commitOptions struct {
	interval time.Duration
}

// NewTopicFlowFunc builds the flow.TopicFlow[S] a Dispatcher will drive,
// given the ScheduleCommit callback the dispatcher wants invoked. Splitting
// construction this way lets the TopicFlow be wired to the dispatcher's own
// commit bookkeeping without the two needing to know about each other ahead
// of time.
type NewTopicFlowFunc[S any] func(flow.ScheduleCommit) *flow.TopicFlow[S]

// New creates a Dispatcher for topic/groupID, connecting via c. newTopicFlow
// is called once to build the TopicFlow this dispatcher will drive.
// additionalOpts are appended after the dispatcher's own required options,
// mirroring eventSourceConsumer's additionalClientOptions parameter.
func New[S any](c cluster.Cluster, topic, groupID string, newTopicFlow NewTopicFlowFunc[S], logger flow.Logger, additionalOpts ...kgo.Opt) (*Dispatcher[S], error) {
	clusterOpts, err := c.Config()
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve cluster config: %w", err)
	}
	if logger == nil {
		logger = flow.SimpleLogger(flow.LogLevelError)
	}

	d := &Dispatcher[S]{
		topic:      topic,
		groupID:    groupID,
		instanceID: uuid.NewString(),
		assigned:   btree.NewOrderedG[int32](16),
		workers:    make(map[int32]*partitionWorker),
		pending:    make(map[flow.TopicPartition]int64),
		commitOpts: commitOptions{interval: 5 * time.Second},
		logger:     logger,
	}
	d.topicFlow = newTopicFlow(d.scheduleCommit)
	d.tickInterval = d.topicFlow.TickInterval()

	opts := append([]kgo.Opt{}, clusterOpts...)
	opts = append(opts,
		kgo.ConsumerGroup(groupID),
		kgo.InstanceID(d.instanceID),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(d.partitionsAssigned),
		kgo.OnPartitionsRevoked(d.partitionsRevoked),
		kgo.OnPartitionsLost(d.partitionsRevoked),
		kgo.FetchMaxWait(time.Second),
	)
	opts = append(opts, additionalOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("dispatch: create client: %w", err)
	}
	d.client = client
	d.admin = kadm.NewClient(client)
	return d, nil
}

// WithCommitInterval overrides how often pending commits are flushed to the
// broker. Defaults to 5 seconds.
func (d *Dispatcher[S]) WithCommitInterval(interval time.Duration) *Dispatcher[S] {
	d.commitOpts.interval = interval
	return d
}

// Run blocks, polling fetches and routing them to per-partition workers,
// until ctx is cancelled or the client is closed via Stop.
func (d *Dispatcher[S]) Run(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	d.stopWg.Add(1)
	go d.commitLoop()
	d.stopWg.Add(1)
	go d.tickLoop()

	for {
		fetches := d.client.PollFetches(d.ctx)
		if d.ctx.Err() != nil {
			break
		}
		for _, err := range fetches.Errors() {
			if err.Err != nil {
				d.logger.Errorf("dispatch: fetch error topic=%s partition=%d: %v", err.Topic, err.Partition, err.Err)
			}
		}
		fetches.EachPartition(d.receive)
	}
	d.stopWg.Wait()
	return d.ctx.Err()
}

// Stop leaves the consumer group and closes the underlying client.
func (d *Dispatcher[S]) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.client.Close()
}

func (d *Dispatcher[S]) receive(p kgo.FetchTopicPartition) {
	if len(p.Records) == 0 {
		return
	}
	d.mu.Lock()
	w, ok := d.workers[p.Partition]
	d.mu.Unlock()
	if !ok {
		d.logger.Warnf("dispatch: records for unassigned partition %d, dropping", p.Partition)
		return
	}
	w.enqueue(toRecords(p))
}

func (d *Dispatcher[S]) partitionsAssigned(ctx context.Context, client *kgo.Client, assignments map[string][]int32) {
	offsets, err := d.admin.FetchOffsets(ctx, d.groupID)
	if err != nil {
		d.logger.Warnf("dispatch: fetch committed offsets for group %s: %v", d.groupID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for topic, partitions := range assignments {
		for _, p := range partitions {
			assignedAtOffset := committedOffsetOrStart(offsets, topic, p)
			if err := d.topicFlow.Assign(ctx, p, assignedAtOffset); err != nil {
				d.logger.Errorf("dispatch: assign partition %d: %v", p, err)
				continue
			}
			w := newPartitionWorker(d.ctx, d.topicFlow, p, d.logger)
			d.workers[p] = w
			d.assigned.ReplaceOrInsert(p)
		}
	}
}

func (d *Dispatcher[S]) partitionsRevoked(ctx context.Context, client *kgo.Client, assignments map[string][]int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, partitions := range assignments {
		for _, p := range partitions {
			if w, ok := d.workers[p]; ok {
				w.stop()
				delete(d.workers, p)
			}
			d.assigned.Delete(p)
			d.topicFlow.Revoke(ctx, p)
		}
	}
}

// scheduleCommit is the flow.ScheduleCommit TopicFlow invokes once a
// partition's safe offset advances. It only records the offset; commitLoop
// is responsible for actually flushing it to the broker, keeping the
// partition's own processing goroutine from blocking on network I/O.
func (d *Dispatcher[S]) scheduleCommit(tp flow.TopicPartition, offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[tp] = offset
}

func (d *Dispatcher[S]) commitLoop() {
	defer d.stopWg.Done()
	ticker := time.NewTicker(d.commitOpts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			d.flushCommits(context.Background())
			return
		case <-ticker.C:
			d.flushCommits(d.ctx)
		}
	}
}

func (d *Dispatcher[S]) flushCommits(ctx context.Context) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	offsets := make(kadm.Offsets)
	for tp, offset := range d.pending {
		offsets.Add(kadm.Offset{Topic: tp.Topic, Partition: tp.Partition, At: offset})
	}
	d.pending = make(map[flow.TopicPartition]int64)
	d.mu.Unlock()

	responses, err := d.admin.CommitOffsets(ctx, d.groupID, offsets)
	if err != nil {
		d.logger.Errorf("dispatch: commit offsets: %v", err)
		return
	}
	var errs error
	responses.Each(func(r kadm.OffsetResponse) {
		if r.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("partition %d: %w", r.Partition, r.Err))
		}
	})
	if errs != nil {
		d.logger.Errorf("dispatch: partial commit failure: %v", errs)
	}
}

// tickLoop drives every currently assigned partition's flow on a cadence
// independent of PollFetches returning records, per spec.md §9: an idle
// partition still needs its TimerFlow evaluated so due persists and
// interjections fire even when nothing is being produced. Ticking a
// partition is just enqueuing an empty batch — ProcessBatch's record loop
// iterates zero times and falls straight through to the timer/interjection/
// commit steps it always runs at the end of a batch.
func (d *Dispatcher[S]) tickLoop() {
	defer d.stopWg.Done()
	if d.tickInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Dispatcher[S]) tick() {
	d.mu.Lock()
	workers := make([]*partitionWorker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.Unlock()
	for _, w := range workers {
		w.enqueue(nil)
	}
}

func committedOffsetOrStart(offsets kadm.OffsetResponses, topic string, partition int32) int64 {
	resp, ok := offsets.Lookup(topic, partition)
	if !ok || resp.Err != nil {
		return 0
	}
	return resp.At
}

func toRecords(p kgo.FetchTopicPartition) []flow.Record {
	out := make([]flow.Record, 0, len(p.Records))
	for _, r := range p.Records {
		headers := make([]flow.Header, 0, len(r.Headers))
		for _, h := range r.Headers {
			headers = append(headers, flow.Header{Key: h.Key, Value: h.Value})
		}
		out = append(out, flow.Record{
			TopicPartition: flow.TopicPartition{Topic: r.Topic, Partition: r.Partition},
			Offset:         r.Offset,
			Key:            r.Key,
			Value:          r.Value,
			Timestamp:      r.Timestamp,
			Headers:        headers,
		})
	}
	return out
}
