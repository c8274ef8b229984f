package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
	idspkg "github.com/drblury/logprocessor/internal/runtime/ids"
	"github.com/drblury/logprocessor/internal/runtime/jsoncodec"
	"github.com/drblury/logprocessor/internal/runtime/record"
)

// NewRecordMessage encodes rec as the JSON payload of a new message. The
// message carries a fresh correlation id.
func NewRecordMessage(rec record.Record) (*message.Message, error) {
	if rec == nil {
		rec = record.Record{}
	}
	payload, err := jsoncodec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	id := idspkg.NewCorrelationID()
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(MetadataCorrelationID, id)
	return msg, nil
}

// PublishRecord publishes rec on channel.
func PublishRecord(ctx context.Context, publisher message.Publisher, channel string, rec record.Record) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if channel == "" {
		return errspkg.ErrChannelRequired
	}

	msg, err := NewRecordMessage(rec)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(channel, msg)
}

// PublishRecord publishes rec on the configured channel using the service
// transport.
func (s *Service) PublishRecord(ctx context.Context, rec record.Record) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return PublishRecord(ctx, s.publisher, s.Conf.Channel, rec)
}
