package kafka

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

// Submitter accepts extraction requests.  *batching.AdaptiveBatchScheduler
// implements it.
type Submitter interface {
	Submit(ctx context.Context, req *common.ExtractionRequest) (string, error)
}

// Publisher publishes one message.  *Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, msg *ProducerMessage) error
}

// RequestMessage is the JSON payload of the request topic.
type RequestMessage struct {
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text"`
	Priority common.Priority   `json:"priority,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewRequestHandler returns a handler that decodes request messages and
// submits them with onResult as callback.  The request id is taken from the
// payload, then from the message key; when both are empty the scheduler
// assigns one.  Undecodable or blank requests fail permanently.
func NewRequestHandler(sub Submitter, onResult common.ResultCallback, logger logging.Logger) MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		var rm RequestMessage
		if err := json.Unmarshal(msg.Value, &rm); err != nil {
			return errors.Wrap(err, errors.ErrCodeMalformedRequest, "decode extraction request")
		}
		if strings.TrimSpace(rm.Text) == "" {
			return errors.New(errors.ErrCodeMalformedRequest, "extraction request has no text")
		}
		id := rm.ID
		if id == "" {
			id = string(msg.Key)
		}
		req := &common.ExtractionRequest{
			ID:       id,
			Text:     rm.Text,
			Priority: rm.Priority,
			Metadata: rm.Metadata,
			Callback: onResult,
		}
		id, err := sub.Submit(ctx, req)
		if err != nil {
			return err
		}
		logger.Debug("extraction request accepted",
			logging.String("request_id", id),
			logging.String("tier", req.SizeTier.String()),
			logging.Int64("offset", msg.Offset))
		return nil
	}
}

// ResultPublisher writes extraction results to the result topic keyed by
// request id, so all results of one id land on one partition.
type ResultPublisher struct {
	publisher Publisher
	topic     string
}

func NewResultPublisher(p Publisher, topic string) *ResultPublisher {
	if topic == "" {
		topic = TopicExtractionResults
	}
	return &ResultPublisher{publisher: p, topic: topic}
}

// Publish has the common.ResultCallback signature.
func (r *ResultPublisher) Publish(ctx context.Context, id string, result *common.ExtractionResult) error {
	if result == nil {
		result = &common.ExtractionResult{}
	}
	out := *result
	out.RequestID = id
	if out.Entities == nil {
		out.Entities = []common.RawEntity{}
	}
	if out.Citations == nil {
		out.Citations = []common.RawCitation{}
	}
	value, err := json.Marshal(&out)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode extraction result")
	}
	return r.publisher.Publish(ctx, &ProducerMessage{
		Topic: r.topic,
		Key:   []byte(id),
		Value: value,
		Headers: map[string]string{
			HeaderRequestID:     id,
			HeaderContentType:   contentJSON,
			HeaderSchemaVersion: schemaVersion,
		},
	})
}
