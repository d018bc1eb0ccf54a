// Package aws provides an AWS SQS connector for romeways built on
// watermill-aws. A custom endpoint (LocalStack, ElasticMQ) can be set per
// connector.
package aws

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/bridge"
)

// TypeName is the name used to register this connector.
const TypeName = "sqs"

// Type builds SQS connectors.
var Type = connector.Type{
	Name:         TypeName,
	New:          New,
	Capabilities: connector.SQSCapabilities,
}

func init() {
	connector.Register(Type)
}

// Config holds the AWS settings shared by every queue of a connector. Empty
// fields fall back to the default AWS configuration chain.
type Config struct {
	connector.Config
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

// String redacts the secret access key.
func (c Config) String() string {
	secret := ""
	if c.SecretAccessKey != "" {
		secret = "***"
	}
	return fmt.Sprintf("aws.Config{ConnectorName:%q Region:%q AccessKeyID:%q SecretAccessKey:%q Endpoint:%q}",
		c.ConnectorName, c.Region, c.AccessKeyID, secret, c.Endpoint)
}

// QueueConfig selects the SQS queue of one itinerary. Queue defaults to the
// queue name.
type QueueConfig struct {
	connector.QueueConfig
	Queue      string `yaml:"queue"`
	BufferSize int    `yaml:"buffer_size"`
}

var (
	_ connector.Settings      = Config{}
	_ connector.QueueSettings = QueueConfig{}
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sqs.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sqs.NewSubscriber(cfg, logger)
}

// New is the connector.Factory of the SQS backend.
func New(ctx context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, logger watermill.LoggerAdapter) (connector.Connector, error) {
	cfg, err := connector.As[Config](settings)
	if err != nil {
		return nil, fmt.Errorf("sqs: %w", err)
	}
	qc, err := connector.As[QueueConfig](qs)
	if err != nil {
		return nil, fmt.Errorf("sqs: %w", err)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	queue := qc.Queue
	if queue == "" {
		queue = queueName
	}

	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	optFns, err := endpointOptions(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	logger.Info("Created AWS config", watermill.LogFields{
		"region":          awsCfg.Region,
		"custom_endpoint": cfg.Endpoint != "",
	})

	publisher, err := PublisherFactory(sqs.PublisherConfig{
		AWSConfig: awsCfg,
		OptFns:    optFns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("sqs: create publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    optFns,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("sqs: create subscriber: %w", err)
	}

	return bridge.New(publisher, subscriber, queue, logger, bridge.Options{BufferSize: qc.BufferSize}), nil
}

func createAWSConfig(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{"requested_region": cfg.Region})
		return aws.Config{}, fmt.Errorf("sqs: load aws config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	return awsCfg, nil
}

// endpointOptions points the SQS client at a custom endpoint.
func endpointOptions(endpoint string) ([]func(*amazonsqs.Options), error) {
	if endpoint == "" {
		return nil, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("sqs: failed to parse endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("sqs: endpoint %q must be an absolute URL", endpoint)
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsed},
		}),
	}, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
