package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"persona-chat/internal/domain"
)

// AppendMessage stores msg under its owner's collection. The store assigns
// the id and the server timestamp; the caller's timestamp is ignored.
func (c *Client) AppendMessage(ctx context.Context, msg domain.Message) (string, error) {
	if strings.TrimSpace(msg.OwnerID) == "" {
		return "", errors.New("repository: AppendMessage: owner id is required")
	}
	if !msg.Role.Valid() {
		return "", fmt.Errorf("repository: AppendMessage: invalid role %q", msg.Role)
	}
	ts := c.now().UTC()
	msg.ID = c.newID()
	msg.Timestamp = ts

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return msg.ID, nil
}

// SubscribeMessages delivers the owner's stored messages in ascending
// timestamp order before returning, then polls for messages with a newer
// sort key and delivers those from the poll goroutine.
func (c *Client) SubscribeMessages(ctx context.Context, ownerID string, fn func(domain.Message)) (func(), error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("repository: SubscribeMessages: owner id is required")
	}
	msgs, last, err := c.messagesAfter(ctx, ownerID, skPrefixMsg)
	if err != nil {
		return nil, fmt.Errorf("repository: SubscribeMessages: %w", err)
	}
	for _, m := range msgs {
		fn(m)
	}

	stop := startPoller(ctx, c.pollInterval, func(ctx context.Context) {
		msgs, next, err := c.messagesAfter(ctx, ownerID, last)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Str("owner", ownerID).Msg("repository: message poll failed")
			}
			return
		}
		last = next
		for _, m := range msgs {
			if ctx.Err() != nil {
				return
			}
			fn(m)
		}
	})
	return stop, nil
}

// messagesAfter returns the owner's messages whose sort key is greater than
// after, ascending, along with the greatest sort key seen (after when none).
func (c *Client) messagesAfter(ctx context.Context, ownerID, after string) ([]domain.Message, string, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK > :after"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
			":after": &types.AttributeValueMemberS{Value: after},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return nil, after, fmt.Errorf("query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(items))
	last := after
	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, after, err
		}
		if !strings.HasPrefix(sk, skPrefixMsg) {
			continue
		}
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, after, fmt.Errorf("unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
		if sk > last {
			last = sk
		}
	}
	return msgs, last, nil
}

func messageSK(msg domain.Message) string {
	return skPrefixMsg + sortable(msg.Timestamp) + "#" + msg.ID
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: ownerPK(msg.OwnerID)},
		"SK":        &types.AttributeValueMemberS{Value: messageSK(msg)},
		"id":        &types.AttributeValueMemberS{Value: msg.ID},
		"role":      &types.AttributeValueMemberS{Value: string(msg.Role)},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
		"timestamp": &types.AttributeValueMemberS{Value: sortable(msg.Timestamp)},
		"ownerId":   &types.AttributeValueMemberS{Value: msg.OwnerID},
	}
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	owner, _ := strAttr(item, "ownerId") // allow empty

	return domain.Message{
		ID:        id,
		Role:      domain.Role(role),
		Content:   content,
		Timestamp: ts,
		OwnerID:   owner,
	}, nil
}
