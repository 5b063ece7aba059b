// Copyright 2022 Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cluster

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
	"github.com/twmb/franz-go/pkg/kgo"
	kaws "github.com/twmb/franz-go/pkg/sasl/aws"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// MskClient is the subset of the AWS MSK API MskCluster needs; satisfied by
// *kafka.Client from aws-sdk-go-v2/service/kafka.
type MskClient interface {
	ListClusters(context.Context, *kafka.ListClustersInput, ...func(*kafka.Options)) (*kafka.ListClustersOutput, error)
	GetBootstrapBrokers(context.Context, *kafka.GetBootstrapBrokersInput, ...func(*kafka.Options)) (*kafka.GetBootstrapBrokersOutput, error)
}

// AuthType selects which bootstrap broker string (and therefore which
// authentication path) MskCluster resolves to.
type AuthType int

const (
	None AuthType = iota
	MutualTLS
	SaslScram
	SaslIam
	PublicMutualTLS
	PublicSaslScram
	PublicSaslIam
)

// MskCluster is a Cluster backed by an Amazon MSK cluster, resolving broker
// addresses at connection time via ListClusters/GetBootstrapBrokers rather
// than requiring the caller to know them up front.
type MskCluster struct {
	clusterName   string
	client        MskClient
	authType      AuthType
	tlsConfig     *tls.Config
	awsConfig     aws.Config
	scram         scram.Auth
	clientOptions []kgo.Opt
}

// DefaultClientConfig loads the default AWS SDK config for region. Panics on
// error, since a misconfigured AWS environment cannot be recovered from at
// this layer.
func DefaultClientConfig(region string) aws.Config {
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithDefaultRegion(region))
	if err != nil {
		panic(err)
	}
	return cfg
}

// NewMskCluster creates an MskCluster using DefaultClientConfig(region).
// The caller's IAM role needs access to ListClusters and GetBootstrapBrokers
// for clusterName.
func NewMskCluster(clusterName string, authType AuthType, region string, optFns ...func(*kafka.Options)) *MskCluster {
	return NewMskClusterWithClientConfig(clusterName, authType, DefaultClientConfig(region), optFns...)
}

// NewMskClusterWithClientConfig creates an MskCluster using an explicit
// aws.Config, for callers that need custom credential resolution (e.g. STS).
func NewMskClusterWithClientConfig(clusterName string, authType AuthType, awsConfig aws.Config, optFns ...func(*kafka.Options)) *MskCluster {
	return &MskCluster{
		clusterName: clusterName,
		authType:    authType,
		awsConfig:   awsConfig,
		client:      kafka.NewFromConfig(awsConfig, optFns...),
	}
}

// WithTlsConfig sets the TLS config used for MutualTLS authentication.
func (c *MskCluster) WithTlsConfig(tlsConfig *tls.Config) *MskCluster {
	c.tlsConfig = tlsConfig
	return c
}

// WithClientOptions supplies additional kgo.Opt values, appended after any
// options MskCluster derives itself.
func (c *MskCluster) WithClientOptions(opts ...kgo.Opt) *MskCluster {
	c.clientOptions = opts
	return c
}

// WithScramUserPass sets SASL/SCRAM credentials for SaslScram/PublicSaslScram.
func (c *MskCluster) WithScramUserPass(user, pass string) *MskCluster {
	c.scram = scram.Auth{User: user, Pass: pass}
	return c
}

// Config resolves this cluster's current bootstrap brokers and assembles the
// kgo.Opt slice dispatch's client should connect with.
func (c *MskCluster) Config() (opts []kgo.Opt, err error) {
	brokers, err := c.getBootstrapBrokers()
	if err != nil {
		return nil, err
	}
	if len(brokers) > 0 {
		opts = append(opts, kgo.SeedBrokers(brokers...))
	}
	if c.tlsConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(c.tlsConfig))
	}
	switch c.authType {
	case SaslIam, PublicSaslIam:
		opts = append(opts, kgo.SASL(kaws.ManagedStreamingIAM(c.saslIamAuth)))
	case SaslScram, PublicSaslScram:
		// MSK only supports SHA512 for SCRAM.
		opts = append(opts, kgo.SASL(c.scram.AsSha512Mechanism()))
	}
	opts = append(opts, c.clientOptions...)
	return opts, nil
}

func (c *MskCluster) saslIamAuth(ctx context.Context) (auth kaws.Auth, err error) {
	creds, err := c.awsConfig.Credentials.Retrieve(ctx)
	if err != nil {
		return kaws.Auth{}, err
	}
	return kaws.Auth{
		AccessKey:    creds.AccessKeyID,
		SecretKey:    creds.SecretAccessKey,
		SessionToken: creds.SessionToken,
	}, nil
}

func (c *MskCluster) getBootstrapBrokers() (brokers []string, err error) {
	arn, err := c.getClusterArn()
	if err != nil {
		return nil, err
	}
	res, err := c.client.GetBootstrapBrokers(context.TODO(), &kafka.GetBootstrapBrokersInput{
		ClusterArn: aws.String(arn),
	})
	if err != nil {
		return nil, err
	}
	bootstrapString := aws.ToString(res.BootstrapBrokerString)
	switch c.authType {
	case MutualTLS:
		bootstrapString = aws.ToString(res.BootstrapBrokerStringTls)
	case SaslScram:
		bootstrapString = aws.ToString(res.BootstrapBrokerStringSaslScram)
	case SaslIam:
		bootstrapString = aws.ToString(res.BootstrapBrokerStringSaslIam)
	case PublicMutualTLS:
		bootstrapString = aws.ToString(res.BootstrapBrokerStringPublicTls)
	case PublicSaslScram:
		bootstrapString = aws.ToString(res.BootstrapBrokerStringPublicSaslScram)
	case PublicSaslIam:
		bootstrapString = aws.ToString(res.BootstrapBrokerStringPublicSaslIam)
	}
	if bootstrapString == "" {
		return nil, fmt.Errorf("cluster: no bootstrap brokers available for auth type %v on cluster %q", c.authType, c.clusterName)
	}
	return strings.Split(bootstrapString, ","), nil
}

func (c *MskCluster) getClusterArn() (string, error) {
	res, err := c.client.ListClusters(context.TODO(), &kafka.ListClustersInput{
		ClusterNameFilter: aws.String(c.clusterName),
	})
	if err != nil {
		return "", err
	}
	if len(res.ClusterInfoList) == 0 {
		return "", fmt.Errorf("cluster: not found: %s", c.clusterName)
	}
	ci := res.ClusterInfoList[0]
	if ci.ClusterArn == nil {
		return "", fmt.Errorf("cluster: cluster info missing ARN: %s", c.clusterName)
	}
	return *ci.ClusterArn, nil
}
