package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"go.outboxrelay.dev/internal/common/metrics"
)

// SQSConfig holds configuration for publishing operational warnings to an
// AWS SQS queue.
type SQSConfig struct {
	Region   string
	QueueURL string
	Endpoint string // for LocalStack
	Enabled  bool
}

// sqsAPI is the subset of the SQS client this notifier depends on, narrowed
// for substitutability in tests.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSService publishes warnings and system events as JSON messages to an SQS
// queue, for operators whose alerting pipeline is already SQS-based.
type SQSService struct {
	config *SQSConfig
	client sqsAPI
}

// NewSQSService loads AWS credentials from the environment and returns a
// Service that sends to config.QueueURL.
func NewSQSService(ctx context.Context, config *SQSConfig) (*SQSService, error) {
	if config == nil {
		return nil, fmt.Errorf("notify: SQS config is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to load AWS config: %w", err)
	}

	var smOpts []func(*sqs.Options)
	if config.Endpoint != "" {
		smOpts = append(smOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	slog.Info("SQSNotificationService initialized", "enabled", config.Enabled, "queueUrl", config.QueueURL)

	return &SQSService{
		config: config,
		client: sqs.NewFromConfig(awsCfg, smOpts...),
	}, nil
}

// NotifyWarning sends a warning message to the configured queue.
func (s *SQSService) NotifyWarning(warning *Warning) {
	s.publish(warning)
}

// NotifyCriticalError sends a synthetic CRITICAL warning message.
func (s *SQSService) NotifyCriticalError(message, source string) {
	s.publish(&Warning{
		Category:  "CRITICAL_ERROR",
		Severity:  "CRITICAL",
		Message:   message,
		Timestamp: time.Now(),
		Source:    source,
	})
}

// NotifySystemEvent sends a synthetic INFO warning message.
func (s *SQSService) NotifySystemEvent(eventType, message string) {
	s.publish(&Warning{
		Category:  "SYSTEM_EVENT_" + eventType,
		Severity:  "INFO",
		Message:   message,
		Timestamp: time.Now(),
		Source:    "outbox-dispatcher",
	})
}

// IsEnabled reports whether this notifier is active.
func (s *SQSService) IsEnabled() bool {
	return s.config.Enabled
}

func (s *SQSService) publish(warning *Warning) {
	if !s.config.Enabled {
		return
	}

	body, err := json.Marshal(warning)
	if err != nil {
		slog.Error("notify: failed to marshal warning", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.config.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		metrics.NotifyPublishErrors.WithLabelValues("sqs").Inc()
		slog.Error("notify: failed to publish warning to SQS", "error", err, "queueUrl", s.config.QueueURL)
		return
	}
	metrics.NotifyMessagesPublished.WithLabelValues("sqs").Inc()
}
