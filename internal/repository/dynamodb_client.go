package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"docchat/internal/domain"
)

const (
	skProfile       = "PROFILE"
	skPrefixSession = "SESSION#"

	// sortableTime is fixed width so session sort keys order chronologically.
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding accounts and their sessions.
// Both live under the account partition: the profile at SK=PROFILE and
// one item per session at SK=SESSION#<createdAt>#<id>.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func accountPK(accountID string) string {
	return "ACCT#" + accountID
}

func sessionSK(createdAt time.Time, sessionID string) string {
	return skPrefixSession + createdAt.UTC().Format(sortableTime) + "#" + sessionID
}

func (c *Client) profileKey(accountID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: accountPK(accountID)},
		"SK": &types.AttributeValueMemberS{Value: skProfile},
	}
}

// GetAccount loads an account profile. The bool is false when none exists.
func (c *Client) GetAccount(ctx context.Context, accountID string) (domain.Account, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.profileKey(accountID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("repository: GetAccount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Account{}, false, nil
	}
	acct, err := itemToAccount(out.Item)
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("repository: GetAccount decode: %w", err)
	}
	return acct, true, nil
}

// CreateAccount writes a new profile. It returns domain.ErrConflict when the
// profile already exists.
func (c *Client) CreateAccount(ctx context.Context, acct domain.Account) error {
	if acct.ID == "" {
		return errors.New("repository: CreateAccount: account id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                accountItem(acct),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateAccount: %w", mapConditionErr(err))
	}
	return nil
}

// IncrementUsage adds one to usageCount as long as it stays below limit and
// returns the new count. A rejected increment yields domain.ErrConflict.
func (c *Client) IncrementUsage(ctx context.Context, accountID string, limit int) (int, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.profileKey(accountID),
		UpdateExpression:    aws.String("SET usageCount = usageCount + :one"),
		ConditionExpression: aws.String("attribute_exists(PK) AND usageCount < :limit"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":limit": &types.AttributeValueMemberN{Value: strconv.Itoa(limit)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementUsage: %w", mapConditionErr(err))
	}
	if out == nil {
		return 0, errors.New("repository: IncrementUsage: empty response")
	}
	n, err := intAttr(out.Attributes, "usageCount")
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementUsage decode usageCount: %w", err)
	}
	return n, nil
}

// SetTier stores a new tier and resets usageCount to zero in the same write.
func (c *Client) SetTier(ctx context.Context, accountID string, tier domain.Tier) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.profileKey(accountID),
		UpdateExpression:    aws.String("SET tier = :tier, usageCount = :zero"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tier": &types.AttributeValueMemberN{Value: strconv.Itoa(int(tier))},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SetTier: %w", mapConditionErr(err))
	}
	return nil
}

// SetMemory replaces the memory attribute without touching the counters.
func (c *Client) SetMemory(ctx context.Context, accountID, memory string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      c.profileKey(accountID),
		UpdateExpression:         aws.String("SET #memory = :memory"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#memory": "memory"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":memory": &types.AttributeValueMemberS{Value: memory},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SetMemory: %w", mapConditionErr(err))
	}
	return nil
}

// LatestSession returns the most recently created session of an account.
func (c *Client) LatestSession(ctx context.Context, accountID string) (domain.Session, bool, error) {
	out, err := c.api.Query(ctx, c.sessionQuery(accountID, 1, nil))
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: LatestSession query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.Session{}, false, nil
	}
	s, err := itemToSession(out.Items[0])
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: LatestSession unmarshal: %w", err)
	}
	return s, true, nil
}

// ListSessions returns every session of an account, newest first.
func (c *Client) ListSessions(ctx context.Context, accountID string) ([]domain.Session, error) {
	var (
		sessions []domain.Session
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, c.sessionQuery(accountID, 0, startKey))
		if err != nil {
			return nil, fmt.Errorf("repository: ListSessions query: %w", err)
		}
		for _, item := range out.Items {
			s, err := itemToSession(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListSessions unmarshal: %w", err)
			}
			sessions = append(sessions, s)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return sessions, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (c *Client) sessionQuery(accountID string, limit int32, startKey map[string]types.AttributeValue) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: accountPK(accountID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixSession},
		},
		// Newest first: sort keys embed the creation time.
		ScanIndexForward:  aws.Bool(false),
		ConsistentRead:    aws.Bool(true),
		ExclusiveStartKey: startKey,
	}
	if limit > 0 {
		in.Limit = aws.Int32(limit)
	}
	return in
}

// SaveSession writes the whole session item, creating or replacing it.
func (c *Client) SaveSession(ctx context.Context, s domain.Session) error {
	if s.ID == "" || s.AccountID == "" {
		return errors.New("repository: SaveSession: session id and account id are required")
	}
	if s.CreatedAt.IsZero() {
		return errors.New("repository: SaveSession: createdAt is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      sessionItem(s),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSession: %w", err)
	}
	return nil
}

func mapConditionErr(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

func accountItem(a domain.Account) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: accountPK(a.ID)},
		"SK":         &types.AttributeValueMemberS{Value: skProfile},
		"accountId":  &types.AttributeValueMemberS{Value: a.ID},
		"tier":       &types.AttributeValueMemberN{Value: strconv.Itoa(int(a.Tier))},
		"usageCount": &types.AttributeValueMemberN{Value: strconv.Itoa(a.UsageCount)},
		"memory":     &types.AttributeValueMemberS{Value: a.Memory},
	}
}

func itemToAccount(item map[string]types.AttributeValue) (domain.Account, error) {
	id, err := strAttr(item, "accountId")
	if err != nil {
		return domain.Account{}, err
	}
	tier, err := intAttr(item, "tier")
	if err != nil {
		return domain.Account{}, err
	}
	usage, err := intAttr(item, "usageCount")
	if err != nil {
		return domain.Account{}, err
	}
	memory, _ := strAttr(item, "memory") // older profiles have no memory
	return domain.Account{
		ID:         id,
		Tier:       domain.Tier(tier),
		UsageCount: usage,
		Memory:     memory,
	}, nil
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	msgs := make([]types.AttributeValue, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"sender": &types.AttributeValueMemberS{Value: string(m.Sender)},
			"text":   &types.AttributeValueMemberS{Value: m.Text},
		}})
	}
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: accountPK(s.AccountID)},
		"SK":            &types.AttributeValueMemberS{Value: sessionSK(s.CreatedAt, s.ID)},
		"sessionId":     &types.AttributeValueMemberS{Value: s.ID},
		"accountId":     &types.AttributeValueMemberS{Value: s.AccountID},
		"createdAt":     &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"lastMessageAt": &types.AttributeValueMemberS{Value: s.LastMessageAt.UTC().Format(time.RFC3339Nano)},
		"messages":      &types.AttributeValueMemberL{Value: msgs},
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	accountID, err := strAttr(item, "accountId")
	if err != nil {
		return domain.Session{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Session{}, err
	}
	lastMessageAt, err := timeAttr(item, "lastMessageAt")
	if err != nil {
		return domain.Session{}, err
	}

	s := domain.Session{
		ID:            id,
		AccountID:     accountID,
		CreatedAt:     createdAt,
		LastMessageAt: lastMessageAt,
	}
	raw, ok := item["messages"]
	if !ok {
		return s, nil
	}
	list, ok := raw.(*types.AttributeValueMemberL)
	if !ok {
		return domain.Session{}, errors.New("repository: attribute \"messages\" is not a list")
	}
	for i, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return domain.Session{}, fmt.Errorf("repository: message %d is not a map", i)
		}
		sender, err := strAttr(m.Value, "sender")
		if err != nil {
			return domain.Session{}, fmt.Errorf("repository: message %d: %w", i, err)
		}
		text, err := strAttr(m.Value, "text")
		if err != nil {
			return domain.Session{}, fmt.Errorf("repository: message %d: %w", i, err)
		}
		s.Messages = append(s.Messages, domain.Message{Sender: domain.Sender(sender), Text: text})
	}
	return s, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
