package flow

import "time"

// TopicPartition names a single shard of an input log, processed in order.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// Header is a single record header, following Kafka's (key, value) header model.
type Header struct {
	Key   string
	Value []byte
}

// Record is the input unit the flow engine consumes, per spec.md §3. It is
// deliberately independent of any concrete Kafka client library; package
// dispatch is responsible for translating wire records into this shape.
type Record struct {
	TopicPartition TopicPartition
	Offset         int64
	Key            []byte
	Value          []byte
	Timestamp      time.Time
	Headers        []Header
}

// HeaderValue returns the value of the first header with the given key, or nil.
func (r Record) HeaderValue(name string) []byte {
	for _, h := range r.Headers {
		if h.Key == name {
			return h.Value
		}
	}
	return nil
}

// KafkaKey uniquely identifies a stateful entity, per spec.md §3:
// (applicationId, groupId, topicPartition, key). It is immutable once constructed.
type KafkaKey struct {
	ApplicationID  string
	GroupID        string
	TopicPartition TopicPartition
	Key            string
}

// NewKafkaKey builds a KafkaKey from a raw record key, decoded to a string.
// Applications with binary keys should decode in their Fold and carry the
// decoded identity in their own state; the core only needs a comparable value.
func NewKafkaKey(applicationID, groupID string, tp TopicPartition, key []byte) KafkaKey {
	return KafkaKey{
		ApplicationID:  applicationID,
		GroupID:        groupID,
		TopicPartition: tp,
		Key:            string(key),
	}
}
