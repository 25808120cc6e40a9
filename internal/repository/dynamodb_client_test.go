package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	updateOut    *dynamodb.UpdateItemOutput
	updateErr    error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	queryInputs  []*dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return f.updateOut, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func makeSession(id string, created time.Time, msgs ...domain.Message) domain.Session {
	return domain.Session{
		ID:            id,
		AccountID:     "acct-1",
		Messages:      msgs,
		CreatedAt:     created,
		LastMessageAt: created.Add(time.Minute),
	}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestGetAccount_HappyPath(t *testing.T) {
	item := accountItem(domain.Account{ID: "acct-1", Tier: domain.TierStandard, UsageCount: 7, Memory: "likes pizza"})
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	acct, ok, err := c.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.Account{ID: "acct-1", Tier: domain.TierStandard, UsageCount: 7, Memory: "likes pizza"}, acct)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "ACCT#acct-1", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestGetAccount_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, ok, err := c.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetAccount_MalformedTier(t *testing.T) {
	item := accountItem(domain.Account{ID: "acct-1"})
	item["tier"] = &types.AttributeValueMemberS{Value: "bad"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	_, _, err := c.GetAccount(context.Background(), "acct-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestGetAccount_Error(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, _, err := c.GetAccount(context.Background(), "acct-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetAccount")
}

func TestCreateAccount_Conditional(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.CreateAccount(context.Background(), domain.NewAccount("acct-1")))
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
	require.Equal(t, "1", db.lastPutInput.Item["tier"].(*types.AttributeValueMemberN).Value)
}

func TestCreateAccount_AlreadyExists(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	err := c.CreateAccount(context.Background(), domain.NewAccount("acct-1"))
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateAccount_MissingID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.CreateAccount(context.Background(), domain.Account{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestIncrementUsage_HappyPath(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"usageCount": &types.AttributeValueMemberN{Value: "4"},
	}}}
	c := mustNewClient(t, db)

	n, err := c.IncrementUsage(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "attribute_exists(PK) AND usageCount < :limit", *db.lastUpdateIn.ConditionExpression)
	require.Equal(t, "10", db.lastUpdateIn.ExpressionAttributeValues[":limit"].(*types.AttributeValueMemberN).Value)
}

func TestIncrementUsage_LimitReached(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	_, err := c.IncrementUsage(context.Background(), "acct-1", 10)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestIncrementUsage_OtherError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("throttled")}
	c := mustNewClient(t, db)
	_, err := c.IncrementUsage(context.Background(), "acct-1", 10)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrConflict)
	require.Contains(t, err.Error(), "IncrementUsage")
}

func TestSetTier_ResetsUsage(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{}}
	c := mustNewClient(t, db)
	require.NoError(t, c.SetTier(context.Background(), "acct-1", domain.TierUnlimited))
	require.Equal(t, "SET tier = :tier, usageCount = :zero", *db.lastUpdateIn.UpdateExpression)
	require.Equal(t, "3", db.lastUpdateIn.ExpressionAttributeValues[":tier"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "0", db.lastUpdateIn.ExpressionAttributeValues[":zero"].(*types.AttributeValueMemberN).Value)
}

func TestSetMemory(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{}}
	c := mustNewClient(t, db)
	require.NoError(t, c.SetMemory(context.Background(), "acct-1", "likes pizza"))
	require.Equal(t, "memory", db.lastUpdateIn.ExpressionAttributeNames["#memory"])
	require.Equal(t, "likes pizza", db.lastUpdateIn.ExpressionAttributeValues[":memory"].(*types.AttributeValueMemberS).Value)

	db.updateErr = errors.New("boom")
	err := c.SetMemory(context.Background(), "acct-1", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "SetMemory")
}

func TestLatestSession_HappyPath(t *testing.T) {
	created := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	s := makeSession("s-1", created, domain.Message{Sender: domain.SenderUser, Text: "hi"}, domain.Message{Sender: domain.SenderBot, Text: "hello"})
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{sessionItem(s)}}}}
	c := mustNewClient(t, db)

	got, ok, err := c.LatestSession(context.Background(), "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s-1", got.ID)
	require.True(t, created.Equal(got.CreatedAt))
	require.True(t, s.LastMessageAt.Equal(got.LastMessageAt))
	require.Equal(t, s.Messages, got.Messages)

	in := db.queryInputs[0]
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *in.KeyConditionExpression)
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, int32(1), *in.Limit)
}

func TestLatestSession_None(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, ok, err := c.LatestSession(context.Background(), "acct-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLatestSession_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, _, err := c.LatestSession(context.Background(), "acct-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LatestSession")
}

func TestLatestSession_MalformedMessage(t *testing.T) {
	item := sessionItem(makeSession("s-1", time.Now()))
	item["messages"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"sender": &types.AttributeValueMemberS{Value: "User"},
		}},
	}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)
	_, _, err := c.LatestSession(context.Background(), "acct-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "text")
}

func TestListSessions_FollowsPagination(t *testing.T) {
	t0 := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	page1 := &dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{sessionItem(makeSession("s-2", t0.Add(time.Hour)))},
		LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "ACCT#acct-1"}},
	}
	page2 := &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{sessionItem(makeSession("s-1", t0))},
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{page1, page2}}
	c := mustNewClient(t, db)

	sessions, err := c.ListSessions(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "s-2", sessions[0].ID)
	require.Equal(t, "s-1", sessions[1].ID)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].Limit)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestSaveSession_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	created := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	s := makeSession("s-1", created, domain.Message{Sender: domain.SenderUser, Text: "hi"})

	require.NoError(t, c.SaveSession(context.Background(), s))
	item := db.lastPutInput.Item
	require.Equal(t, "ACCT#acct-1", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "SESSION#2026-02-25T10:00:00.000000000Z#s-1", item["SK"].(*types.AttributeValueMemberS).Value)
	require.Len(t, item["messages"].(*types.AttributeValueMemberL).Value, 1)
}

func TestSaveSession_Validation(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveSession(context.Background(), domain.Session{AccountID: "acct-1", CreatedAt: time.Now()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")

	err = c.SaveSession(context.Background(), domain.Session{ID: "s-1", AccountID: "acct-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "createdAt")
}

func TestSaveSession_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	err := c.SaveSession(context.Background(), makeSession("s-1", time.Now()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveSession")
}

func TestSessionSK_SortsChronologically(t *testing.T) {
	a := sessionSK(time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC), "z")
	b := sessionSK(time.Date(2026, 2, 25, 10, 0, 0, 500, time.UTC), "a")
	require.Less(t, a, b)
}

func TestAccountPK(t *testing.T) {
	require.Equal(t, "ACCT#my-acct", accountPK("my-acct"))
}
