package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/google/uuid"
)

type iotPublisher interface {
	Publish(ctx context.Context, params *iotdataplane.PublishInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error)
}

// commandPayload is what the barrier firmware receives over MQTT.
type commandPayload struct {
	Value     json.RawMessage `json:"value"`
	RequestID string          `json:"request_id"`
	SentAt    int64           `json:"sent_at"`
}

// IoTCommandWriter publishes command writes to an AWS IoT topic instead of
// the key-path store. The topic is prefix + path.
type IoTCommandWriter struct {
	client      iotPublisher
	topicPrefix string
	now         func() time.Time
}

func NewIoTCommandWriter(client iotPublisher, topicPrefix string) *IoTCommandWriter {
	return &IoTCommandWriter{client: client, topicPrefix: topicPrefix, now: time.Now}
}

var _ Writer = (*IoTCommandWriter)(nil)

func (w *IoTCommandWriter) Set(ctx context.Context, path string, value any) error {
	raw, err := toRaw(value)
	if err != nil {
		return fmt.Errorf("marshal command value: %w", err)
	}
	payload, err := json.Marshal(commandPayload{
		Value:     raw,
		RequestID: uuid.NewString(),
		SentAt:    w.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal command payload: %w", err)
	}

	topic := w.topicPrefix + strings.TrimPrefix(path, "/")
	_, err = w.client.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Qos:     1,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publish command to %s: %w", topic, err)
	}
	return nil
}

// NewIoTDataClient builds an IoT data-plane client from the default AWS
// credential chain. endpoint is the account's ATS data endpoint.
func NewIoTDataClient(ctx context.Context, region, endpoint string) (*iotdataplane.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return iotdataplane.NewFromConfig(cfg, func(o *iotdataplane.Options) {
		if endpoint == "" {
			return
		}
		if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
			endpoint = "https://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}
