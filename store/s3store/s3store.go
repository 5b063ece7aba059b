// Package s3store implements flow.SnapshotStore on top of object storage,
// grounded on the kstreams S3 store backend (stores/s3/s3.go): one object
// per key under a "<name>/<partition>/<key>" prefix. Intended for cold or
// standby partitions where Pebble's local-disk requirement (package
// pebblestore) is undesirable, per spec.md §6's framing of SnapshotStore
// implementations as swappable by deployment tier.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/johanmast/kafka-flow/flow"
)

// Store is a SnapshotStore[S] backed by a minio-go client, compatible with
// both MinIO and AWS S3 itself.
type Store[S any] struct {
	client *minio.Client
	bucket string
	prefix string
	codec  flow.Codec[S]
}

// New wraps an already-configured minio client. bucket must already exist;
// prefix namespaces this store's objects within it (e.g. "<appID>/<topic>").
func New[S any](client *minio.Client, bucket, prefix string, codec flow.Codec[S]) *Store[S] {
	return &Store[S]{client: client, bucket: bucket, prefix: prefix, codec: codec}
}

// EnsureBucket creates the bucket if it does not already exist.
func (s *Store[S]) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3store: check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("s3store: create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *Store[S]) objectName(partition int32, key string) string {
	return fmt.Sprintf("%s/%d/%s", s.prefix, partition, key)
}

func (s *Store[S]) Get(ctx context.Context, key flow.KafkaKey) (S, bool, error) {
	var zero S
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key.TopicPartition.Partition, key.Key), minio.GetObjectOptions{})
	if err != nil {
		return zero, false, fmt.Errorf("s3store: get %q: %w", key.Key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("s3store: read %q: %w", key.Key, err)
	}
	state, err := s.codec.Decode(data)
	if err != nil {
		return zero, false, fmt.Errorf("s3store: decode %q: %w", key.Key, err)
	}
	return state, true, nil
}

func (s *Store[S]) Persist(ctx context.Context, key flow.KafkaKey, state S) error {
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, state); err != nil {
		return fmt.Errorf("s3store: encode %q: %w", key.Key, err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key.TopicPartition.Partition, key.Key), bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3store: put %q: %w", key.Key, err)
	}
	return nil
}

func (s *Store[S]) Delete(ctx context.Context, key flow.KafkaKey) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key.TopicPartition.Partition, key.Key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("s3store: remove %q: %w", key.Key, err)
	}
	return nil
}

// KeyStore enumerates keys by listing objects under prefix. Suited to the
// low-churn, cold-partition use case this store targets; a hot partition
// should prefer pebblestore or kafkastore for its KeyStore.
type KeyStore[S any] struct {
	store *Store[S]
}

func NewKeyStore[S any](store *Store[S]) *KeyStore[S] {
	return &KeyStore[S]{store: store}
}

func (ks *KeyStore[S]) List(ctx context.Context, partition int32) ([]flow.KafkaKey, error) {
	partitionPrefix := fmt.Sprintf("%s/%d/", ks.store.prefix, partition)
	var out []flow.KafkaKey
	for obj := range ks.store.client.ListObjects(ctx, ks.store.bucket, minio.ListObjectsOptions{
		Prefix:    partitionPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("s3store: list objects: %w", obj.Err)
		}
		key := obj.Key[len(partitionPrefix):]
		out = append(out, flow.KafkaKey{
			TopicPartition: flow.TopicPartition{Partition: partition},
			Key:            key,
		})
	}
	return out, nil
}

// Add is a no-op: Persist's PutObject already makes the key enumerable by List.
func (ks *KeyStore[S]) Add(context.Context, flow.KafkaKey) error { return nil }

// Remove is a no-op: Delete's RemoveObject already removed the key.
func (ks *KeyStore[S]) Remove(context.Context, flow.KafkaKey) error { return nil }

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}
