package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-account-tokens/internal/domain"
)

// tokenItem is the stored shape of a TokenRecord.
// PK: user_id, SK: purpose. expires_at is epoch seconds rounded up so the
// table TTL never fires early; expires_at_ns keeps the exact instant for the
// lazy expiry check. claim_id and claimed_until exist only while a redemption
// holds the record.
type tokenItem struct {
	UserID         string    `dynamodbav:"user_id"`
	Purpose        string    `dynamodbav:"purpose"`
	TokenID        string    `dynamodbav:"token_id"`
	VerifierHash   string    `dynamodbav:"verifier_hash"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"`
	ExpiresAtNanos int64     `dynamodbav:"expires_at_ns,omitempty"`
}

func toItem(rec *domain.TokenRecord) tokenItem {
	return tokenItem{
		UserID:         rec.UserID,
		Purpose:        string(rec.Purpose),
		TokenID:        rec.TokenID,
		VerifierHash:   rec.VerifierHash,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      ceilUnix(rec.ExpiresAt),
		ExpiresAtNanos: rec.ExpiresAt.UnixNano(),
	}
}

func (it tokenItem) record() *domain.TokenRecord {
	expires := time.Unix(it.ExpiresAt, 0).UTC()
	if it.ExpiresAtNanos != 0 {
		expires = time.Unix(0, it.ExpiresAtNanos).UTC()
	}
	return &domain.TokenRecord{
		UserID:       it.UserID,
		Purpose:      domain.Purpose(it.Purpose),
		TokenID:      it.TokenID,
		VerifierHash: it.VerifierHash,
		CreatedAt:    it.CreatedAt,
		ExpiresAt:    expires,
	}
}

func ceilUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}

func nanos(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixNano(), 10)}
}

// TokenRepo stores token records. A PutItem on an existing key replaces the
// item atomically, which gives Put its supersede semantics.
type TokenRepo struct {
	client    API
	tableName string
}

func NewTokenRepo(client API, tableName string) *TokenRepo {
	return &TokenRepo{client: client, tableName: tableName}
}

func (r *TokenRepo) Put(ctx context.Context, rec *domain.TokenRecord) error {
	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return unavailable("put token", err)
	}
	return nil
}

func (r *TokenRepo) Get(ctx context.Context, userID string, purpose domain.Purpose) (*domain.TokenRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldUserID, userID, fieldPurpose, string(purpose)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get token", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("token record not found: %w", domain.ErrNotFound)
	}
	var it tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal token record: %w", err)
	}
	return it.record(), nil
}

func (r *TokenRepo) Delete(ctx context.Context, userID string, purpose domain.Purpose) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldUserID, userID, fieldPurpose, string(purpose)),
	})
	if err != nil {
		return unavailable("delete token", err)
	}
	return nil
}

// Consume deletes the record only while it still carries tokenID.
func (r *TokenRepo) Consume(ctx context.Context, userID string, purpose domain.Purpose, tokenID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      compositeKey(fieldUserID, userID, fieldPurpose, string(purpose)),
		ConditionExpression:      aws.String("#tid = :tid"),
		ExpressionAttributeNames: map[string]string{"#tid": fieldTokenID},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: tokenID},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("token record already consumed or superseded: %w", domain.ErrNotFound)
		}
		return unavailable("consume token", err)
	}
	return nil
}

// Claim reserves the record carrying tokenID for claimID until the lease ends.
// The condition fails, and ErrNotFound is returned, when the item is gone,
// carries another token_id, or holds a claim that has not lapsed.
func (r *TokenRepo) Claim(ctx context.Context, userID string, purpose domain.Purpose, tokenID, claimID string, now, until time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey(fieldUserID, userID, fieldPurpose, string(purpose)),
		UpdateExpression:    aws.String("SET #cid = :cid, #cu = :until"),
		ConditionExpression: aws.String("#tid = :tid AND (attribute_not_exists(#cid) OR #cu <= :now)"),
		ExpressionAttributeNames: map[string]string{
			"#tid": fieldTokenID,
			"#cid": fieldClaimID,
			"#cu":  fieldClaimedUntil,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid":   &types.AttributeValueMemberS{Value: tokenID},
			":cid":   &types.AttributeValueMemberS{Value: claimID},
			":until": nanos(until),
			":now":   nanos(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("token record consumed, superseded or claimed: %w", domain.ErrNotFound)
		}
		return unavailable("claim token", err)
	}
	return nil
}

// Release removes claimID's reservation. A missing item or foreign claim is left alone.
func (r *TokenRepo) Release(ctx context.Context, userID string, purpose domain.Purpose, claimID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      compositeKey(fieldUserID, userID, fieldPurpose, string(purpose)),
		UpdateExpression:         aws.String("REMOVE #cid, #cu"),
		ConditionExpression:      aws.String("#cid = :cid"),
		ExpressionAttributeNames: map[string]string{"#cid": fieldClaimID, "#cu": fieldClaimedUntil},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: claimID},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return unavailable("release token claim", err)
	}
	return nil
}

// SweepExpired scans for lapsed records and deletes each one conditionally,
// so a record re-issued between the scan and the delete survives.
func (r *TokenRepo) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		FilterExpression:         aws.String("#exp < :now"),
		ProjectionExpression:     aws.String("#pk, #sk, #tid, #exp"),
		ExpressionAttributeNames: map[string]string{"#pk": fieldUserID, "#sk": fieldPurpose, "#tid": fieldTokenID, "#exp": fieldExpiresAt},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": cutoff,
		},
	})

	swept := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return swept, unavailable("scan expired tokens", err)
		}
		var items []tokenItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return swept, fmt.Errorf("unmarshal token records: %w", err)
		}
		for _, it := range items {
			err := r.deleteIfExpired(ctx, it, cutoff)
			if err == nil {
				swept++
				continue
			}
			if !isConditionFailed(err) {
				return swept, unavailable("delete expired token", err)
			}
		}
	}
	return swept, nil
}

func (r *TokenRepo) deleteIfExpired(ctx context.Context, it tokenItem, cutoff types.AttributeValue) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      compositeKey(fieldUserID, it.UserID, fieldPurpose, it.Purpose),
		ConditionExpression:      aws.String("#tid = :tid AND #exp < :now"),
		ExpressionAttributeNames: map[string]string{"#tid": fieldTokenID, "#exp": fieldExpiresAt},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: it.TokenID},
			":now": cutoff,
		},
	})
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
