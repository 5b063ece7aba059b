// Package cluster provides Cluster implementations for connecting dispatch's
// underlying kgo.Client to a Kafka cluster, grounded on the teacher
// library's streams.Cluster interface and its msk submodule.
package cluster

import "github.com/twmb/franz-go/pkg/kgo"

// Cluster is a reusable Kafka client configuration: at minimum it returns
// kgo.SeedBrokers, but may also supply TLS, SASL, or other connection options.
type Cluster interface {
	Config() ([]kgo.Opt, error)
}

// SimpleCluster establishes a plain connection to the given broker addresses.
// Useful for local development and tests; production deployments on AWS
// should prefer MskCluster.
type SimpleCluster []string

func (sc SimpleCluster) Config() ([]kgo.Opt, error) {
	return []kgo.Opt{kgo.SeedBrokers(sc...)}, nil
}
