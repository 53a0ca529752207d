// Package kafka implements logstore.Store on Kafka topics.
//
// A stream is a topic. Its length is the sum over partitions of the
// distance between the log start offset and the high watermark, and a trim
// advances log start offsets with DeleteRecords.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/faultwatch/faultwatch/internal/logstore"
)

// Config configures the Kafka connection.
type Config struct {
	Brokers  []string `yaml:"brokers" env:"FAULTWATCH_KAFKA_BROKERS"`
	ClientID string   `yaml:"clientId"`
}

// Store implements logstore.Store using the Kafka admin API.
type Store struct {
	client *kgo.Client
	admin  *kadm.Client
}

// New creates a Kafka-backed store.
func New(cfg Config) (*Store, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create client: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *kgo.Client) *Store {
	return &Store{client: client, admin: kadm.NewClient(client)}
}

// Close closes the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// Ping sends an ApiVersions request to any broker. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	resp, err := kmsg.NewPtrApiVersionsRequest().RequestWith(ctx, s.client)
	if err != nil {
		return logstore.Unavailable("ping", "", err)
	}
	if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
		return logstore.Unavailable("ping", "", err)
	}
	return nil
}

// partitionRange is the live offset range of one partition.
type partitionRange struct {
	Partition int32
	Start     int64
	End       int64
}

func (p partitionRange) length() int64 {
	if p.End < p.Start {
		return 0
	}
	return p.End - p.Start
}

func (s *Store) ranges(ctx context.Context, topic string) ([]partitionRange, error) {
	starts, err := s.admin.ListStartOffsets(ctx, topic)
	if err != nil {
		return nil, classify("offsets", topic, err)
	}
	ends, err := s.admin.ListEndOffsets(ctx, topic)
	if err != nil {
		return nil, classify("offsets", topic, err)
	}

	var out []partitionRange
	var firstErr error
	starts.Each(func(lo kadm.ListedOffset) {
		if lo.Topic != topic {
			return
		}
		if lo.Err != nil {
			if firstErr == nil {
				firstErr = lo.Err
			}
			return
		}
		end, ok := ends.Lookup(topic, lo.Partition)
		if !ok {
			return
		}
		if end.Err != nil {
			if firstErr == nil {
				firstErr = end.Err
			}
			return
		}
		out = append(out, partitionRange{Partition: lo.Partition, Start: lo.Offset, End: end.Offset})
	})
	if firstErr != nil {
		return nil, classify("offsets", topic, firstErr)
	}
	if len(out) == 0 {
		return nil, logstore.NotFound(topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

// Length implements logstore.Store.
func (s *Store) Length(ctx context.Context, topic string) (int64, error) {
	rs, err := s.ranges(ctx, topic)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range rs {
		total += r.length()
	}
	return total, nil
}

// ConsumerGroupCount implements logstore.Store. A group counts when it has
// committed offsets for the topic.
func (s *Store) ConsumerGroupCount(ctx context.Context, topic string) (int, error) {
	if _, err := s.ranges(ctx, topic); err != nil {
		return 0, err
	}

	listed, err := s.admin.ListGroups(ctx)
	if err != nil {
		return 0, classify("groups", topic, err)
	}
	groups := listed.Groups()
	if len(groups) == 0 {
		return 0, nil
	}

	count := 0
	for _, resp := range s.admin.FetchManyOffsets(ctx, groups...) {
		if resp.Err != nil {
			return 0, classify("groups", topic, resp.Err)
		}
		if len(resp.Fetched[topic]) > 0 {
			count++
		}
	}
	return count, nil
}

// Trim implements logstore.Store. The target is split across partitions in
// proportion to their current length.
func (s *Store) Trim(ctx context.Context, topic string, target int64, approximate bool) (int64, error) {
	rs, err := s.ranges(ctx, topic)
	if err != nil {
		return 0, err
	}

	newStarts := planTrim(rs, target, approximate)
	offsets := make(kadm.Offsets)
	for i, r := range rs {
		if newStarts[i] > r.Start {
			offsets.Add(kadm.Offset{Topic: topic, Partition: r.Partition, At: newStarts[i], LeaderEpoch: -1})
		}
	}
	if len(offsets) == 0 {
		return 0, nil
	}

	resps, err := s.admin.DeleteRecords(ctx, offsets)
	if err != nil {
		return 0, classify("trim", topic, err)
	}

	var removed int64
	var firstErr error
	for i, r := range rs {
		resp, ok := resps.Lookup(topic, r.Partition)
		if !ok {
			continue
		}
		if resp.Err != nil {
			if firstErr == nil {
				firstErr = resp.Err
			}
			continue
		}
		removed += newStarts[i] - r.Start
	}
	if firstErr != nil && removed == 0 {
		return 0, classify("trim", topic, firstErr)
	}
	return removed, nil
}

// planTrim returns the new log start offset of each partition so that about
// target records remain. Exact plans keep exactly target records in total;
// approximate plans round each partition's share up and may keep up to one
// extra record per partition.
func planTrim(rs []partitionRange, target int64, approximate bool) []int64 {
	starts := make([]int64, len(rs))
	var total int64
	for i, r := range rs {
		starts[i] = r.Start
		total += r.length()
	}
	if target < 0 {
		target = 0
	}
	if total <= target {
		return starts
	}

	keep := make([]int64, len(rs))
	var kept int64
	for i, r := range rs {
		l := r.length()
		if approximate {
			keep[i] = (target*l + total - 1) / total
		} else {
			keep[i] = target * l / total
		}
		if keep[i] > l {
			keep[i] = l
		}
		kept += keep[i]
	}

	// Hand out the rounding remainder, longest partitions first.
	if !approximate && kept < target {
		order := make([]int, len(rs))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return rs[order[a]].length() > rs[order[b]].length() })
		for _, i := range order {
			if kept == target {
				break
			}
			if keep[i] < rs[i].length() {
				keep[i]++
				kept++
			}
		}
	}

	for i, r := range rs {
		starts[i] = r.End - keep[i]
	}
	return starts
}

func classify(op, topic string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kerr.UnknownTopicOrPartition) || strings.Contains(err.Error(), "UNKNOWN_TOPIC_OR_PARTITION") {
		return logstore.NotFound(topic)
	}
	return logstore.Unavailable(op, topic, err)
}

var _ logstore.Store = (*Store)(nil)
