package events

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// topicAlreadyExists is Kafka protocol error code 36.
const topicAlreadyExists = 36

// ensureTopic creates the topic when missing. An existing topic is not an
// error.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30_000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replication
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=events.ensureTopic: %w", err)
	}
	created, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=events.ensureTopic: unexpected response type %T", resp)
	}
	for _, t := range created.Topics {
		if t.ErrorCode != 0 && t.ErrorCode != topicAlreadyExists {
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("op=events.ensureTopic: create %q failed with code %d: %s", topic, t.ErrorCode, msg)
		}
	}
	return nil
}
