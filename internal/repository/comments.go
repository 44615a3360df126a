package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"persona-chat/internal/domain"
)

// AppendComment stores cm with an empty like set and a zero count. The id
// starts with the server timestamp so sort key order is posting order.
func (c *Client) AppendComment(ctx context.Context, cm domain.Comment) (string, error) {
	ts := c.now().UTC()
	cm.ID = sortable(ts) + "-" + c.newID()
	cm.Timestamp = ts
	cm.Likes = []string{}
	cm.LikeCount = 0

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                commentItem(cm),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("repository: AppendComment: %w", err)
	}
	return cm.ID, nil
}

// SubscribeComments delivers the full collection, newest first, before
// returning. The poll goroutine re-reads the collection and delivers it again
// whenever it differs from the last delivered snapshot.
func (c *Client) SubscribeComments(ctx context.Context, fn func([]domain.Comment)) (func(), error) {
	last, err := c.listComments(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: SubscribeComments: %w", err)
	}
	fn(last)

	stop := startPoller(ctx, c.pollInterval, func(ctx context.Context) {
		snap, err := c.listComments(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("repository: comment poll failed")
			}
			return
		}
		if reflect.DeepEqual(snap, last) || ctx.Err() != nil {
			return
		}
		last = snap
		fn(snap)
	})
	return stop, nil
}

func (c *Client) listComments(ctx context.Context) ([]domain.Comment, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkComments},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixCmt},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out := make([]domain.Comment, 0, len(items))
	for _, item := range items {
		cm, err := itemToComment(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		out = append(out, cm)
	}
	return out, nil
}

// ReadComment returns the comment with id. ok is false when it does not exist.
func (c *Client) ReadComment(ctx context.Context, id string) (domain.Comment, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            commentKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Comment{}, false, fmt.Errorf("repository: ReadComment: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Comment{}, false, nil
	}
	cm, err := itemToComment(out.Item)
	if err != nil {
		return domain.Comment{}, false, fmt.Errorf("repository: ReadComment decode: %w", err)
	}
	return cm, true, nil
}

// UpdateLikes adds or removes u.IdentityID from the like set and overwrites
// the count with u.Count in one write.
func (c *Client) UpdateLikes(ctx context.Context, id string, u domain.LikeUpdate) error {
	expr := "DELETE likes :u SET likeCount = :n"
	if u.Add {
		expr = "ADD likes :u SET likeCount = :n"
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              commentKey(id),
		UpdateExpression: aws.String(expr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberSS{Value: []string{u.IdentityID}},
			":n": &types.AttributeValueMemberN{Value: strconv.Itoa(u.Count)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: UpdateLikes %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("repository: UpdateLikes: %w", err)
	}
	return nil
}

// ToggleLikeAtomic moves identityID into (like) or out of the like set and
// adjusts the count by one in the same conditional write. It is a no-op when
// the set already has the requested membership.
func (c *Client) ToggleLikeAtomic(ctx context.Context, id, identityID string, like bool) error {
	in := &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key:       commentKey(id),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u":   &types.AttributeValueMemberSS{Value: []string{identityID}},
			":uid": &types.AttributeValueMemberS{Value: identityID},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if like {
		in.UpdateExpression = aws.String("ADD likes :u, likeCount :one")
		in.ConditionExpression = aws.String("attribute_exists(PK) AND NOT contains(likes, :uid)")
		in.ExpressionAttributeValues[":one"] = &types.AttributeValueMemberN{Value: "1"}
	} else {
		in.UpdateExpression = aws.String("DELETE likes :u ADD likeCount :minus")
		in.ConditionExpression = aws.String("attribute_exists(PK) AND contains(likes, :uid) AND likeCount > :zero")
		in.ExpressionAttributeValues[":minus"] = &types.AttributeValueMemberN{Value: "-1"}
		in.ExpressionAttributeValues[":zero"] = &types.AttributeValueMemberN{Value: "0"}
	}

	_, err := c.api.UpdateItem(ctx, in)
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("repository: ToggleLikeAtomic: %w", err)
	}
	if len(ccf.Item) == 0 {
		return fmt.Errorf("repository: ToggleLikeAtomic %q: %w", id, ErrNotFound)
	}
	if like {
		return nil
	}
	// The member is still in the set but the count already reads zero, left
	// behind by a lost read-modify-write update. Remove the member and keep
	// the count at zero.
	old, err := itemToComment(ccf.Item)
	if err != nil || !old.LikedBy(identityID) {
		return nil
	}
	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 commentKey(id),
		UpdateExpression:    aws.String("DELETE likes :u SET likeCount = :zero"),
		ConditionExpression: aws.String("attribute_exists(PK) AND contains(likes, :uid)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u":    &types.AttributeValueMemberSS{Value: []string{identityID}},
			":uid":  &types.AttributeValueMemberS{Value: identityID},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("repository: ToggleLikeAtomic: %w", err)
	}
	return nil
}

func commentKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkComments},
		"SK": &types.AttributeValueMemberS{Value: skPrefixCmt + id},
	}
}

func commentItem(cm domain.Comment) map[string]types.AttributeValue {
	item := commentKey(cm.ID)
	item["id"] = &types.AttributeValueMemberS{Value: cm.ID}
	item["text"] = &types.AttributeValueMemberS{Value: cm.Text}
	item["authorId"] = &types.AttributeValueMemberS{Value: cm.AuthorID}
	item["authorName"] = &types.AttributeValueMemberS{Value: cm.AuthorName}
	item["authorEmail"] = &types.AttributeValueMemberS{Value: cm.AuthorEmail}
	item["timestamp"] = &types.AttributeValueMemberS{Value: sortable(cm.Timestamp)}
	item["likeCount"] = &types.AttributeValueMemberN{Value: strconv.Itoa(cm.LikeCount)}
	if len(cm.Likes) > 0 {
		item["likes"] = &types.AttributeValueMemberSS{Value: append([]string{}, cm.Likes...)}
	}
	return item
}

func itemToComment(item map[string]types.AttributeValue) (domain.Comment, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Comment{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Comment{}, err
	}
	authorID, err := strAttr(item, "authorId")
	if err != nil {
		return domain.Comment{}, err
	}
	authorName, _ := strAttr(item, "authorName")   // allow empty
	authorEmail, _ := strAttr(item, "authorEmail") // allow empty
	// A comment the writer has not stamped yet carries no timestamp.
	var ts time.Time
	if _, ok := item["timestamp"]; ok {
		if ts, err = timeAttr(item, "timestamp"); err != nil {
			return domain.Comment{}, err
		}
	}
	likes, err := stringSetAttr(item, "likes")
	if err != nil {
		return domain.Comment{}, err
	}
	count := 0
	if _, ok := item["likeCount"]; ok {
		if count, err = intAttr(item, "likeCount"); err != nil {
			return domain.Comment{}, err
		}
	}

	return domain.Comment{
		ID:          id,
		Text:        text,
		AuthorID:    authorID,
		AuthorName:  authorName,
		AuthorEmail: authorEmail,
		Timestamp:   ts,
		Likes:       likes,
		LikeCount:   count,
	}, nil
}
