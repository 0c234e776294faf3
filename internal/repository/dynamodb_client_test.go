package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"semantic-chat/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	updateErr    error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	scanOuts     []*dynamodb.ScanOutput
	scanErr      error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	queryInputs  []*dynamodb.QueryInput
	scanInputs   []*dynamodb.ScanInput
	txInputs     []*dynamodb.TransactWriteItemsInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
	queryCallIdx int
	scanCallIdx  int
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
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryCallIdx >= len(f.queryOuts) {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[f.queryCallIdx]
	f.queryCallIdx++
	return out, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanInputs = append(f.scanInputs, in)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	if f.scanCallIdx >= len(f.scanOuts) {
		return &dynamodb.ScanOutput{}, nil
	}
	out := f.scanOuts[f.scanCallIdx]
	f.scanCallIdx++
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	f.txInputs = append(f.txInputs, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeMessageItem(pk, sk, prompt, completion, status string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":               &types.AttributeValueMemberS{Value: pk},
		"SK":               &types.AttributeValueMemberS{Value: sk},
		"prompt":           &types.AttributeValueMemberS{Value: prompt},
		"completion":       &types.AttributeValueMemberS{Value: completion},
		"status":           &types.AttributeValueMemberS{Value: status},
		"promptTokens":     &types.AttributeValueMemberN{Value: "3"},
		"completionTokens": &types.AttributeValueMemberN{Value: "5"},
		"cacheHit":         &types.AttributeValueMemberBOOL{Value: true},
	}
}

func makeSessionItem(id string, tokens, version int, created time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: convPK(id)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"id":        &types.AttributeValueMemberS{Value: id},
		"name":      &types.AttributeValueMemberS{Value: "New Chat"},
		"tokens":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", tokens)},
		"version":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", version)},
		"createdAt": &types.AttributeValueMemberS{Value: created.UTC().Format(time.RFC3339Nano)},
	}
}

func keyItem(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func conditionalFailure(codes ...string) error {
	reasons := make([]types.CancellationReason, 0, len(codes))
	for _, c := range codes {
		reasons = append(reasons, types.CancellationReason{Code: aws.String(c)})
	}
	return &types.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled"),
		CancellationReasons: reasons,
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestGetSession_HappyPath(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeSessionItem("abc", 120, 4, created)}}
	c := mustNewClient(t, db)
	s, err := c.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", s.ID)
	require.Equal(t, 120, s.Tokens)
	require.Equal(t, int64(4), s.Version)
	require.Equal(t, "New Chat", s.Name)
	require.True(t, created.Equal(s.CreatedAt))
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetSession_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetSession_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetSession")
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestGetSession_MalformedTokens(t *testing.T) {
	item := makeSessionItem("abc", 0, 0, time.Now())
	item["tokens"] = &types.AttributeValueMemberS{Value: "bad"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "tokens")
}

func TestInsertSession_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	s := domain.Session{ID: "abc", Name: domain.DefaultSessionName, CreatedAt: time.Now()}
	require.NoError(t, c.InsertSession(context.Background(), s))
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
	require.Equal(t, convPK(s.ID), db.lastPutInput.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "New Chat", db.lastPutInput.Item["name"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "0", db.lastPutInput.Item["tokens"].(*types.AttributeValueMemberN).Value)
}

func TestInsertSession_Exists(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	c := mustNewClient(t, db)
	err := c.InsertSession(context.Background(), domain.Session{ID: "abc", CreatedAt: time.Now()})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestInsertSession_MissingID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.InsertSession(context.Background(), domain.Session{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestListSessions_PaginatesAndSorts(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	db := &fakeDynamo{scanOuts: []*dynamodb.ScanOutput{
		{
			Items:            []map[string]types.AttributeValue{makeSessionItem("b", 0, 0, newer)},
			LastEvaluatedKey: keyItem(convPK("b"), skMeta),
		},
		{
			Items: []map[string]types.AttributeValue{makeSessionItem("a", 0, 0, older)},
		},
	}}
	c := mustNewClient(t, db)
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "a", sessions[0].ID)
	require.Equal(t, "b", sessions[1].ID)
	require.Len(t, db.scanInputs, 2)
	require.Nil(t, db.scanInputs[0].ExclusiveStartKey)
	require.NotNil(t, db.scanInputs[1].ExclusiveStartKey)
	require.Equal(t, "SK = :meta", *db.scanInputs[0].FilterExpression)
}

func TestListSessions_ScanError(t *testing.T) {
	db := &fakeDynamo{scanErr: errors.New("throttled")}
	c := mustNewClient(t, db)
	_, err := c.ListSessions(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListSessions")
}

func TestRenameSession_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.RenameSession(context.Background(), "abc", "Paris trip"))
	require.Equal(t, "SET #name = :name", *db.lastUpdateIn.UpdateExpression)
	require.Equal(t, "Paris trip", db.lastUpdateIn.ExpressionAttributeValues[":name"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_exists(PK)", *db.lastUpdateIn.ConditionExpression)
}

func TestRenameSession_Missing(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("missing")}}
	c := mustNewClient(t, db)
	err := c.RenameSession(context.Background(), "abc", "x")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListMessages_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			makeMessageItem("CONV#abc", "MSG#2026-02-27T11:00:00Z#1", "older", "a1", domain.StatusCompleted),
			makeMessageItem("CONV#abc", "MSG#2026-02-27T12:00:00Z#2", "newer", "", domain.StatusDrafted),
		},
	}}}
	c := mustNewClient(t, db)
	msgs, err := c.ListMessages(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "older", msgs[0].Prompt)
	require.Equal(t, "a1", msgs[0].Completion)
	require.Equal(t, 3, msgs[0].PromptTokens)
	require.Equal(t, 5, msgs[0].CompletionTokens)
	require.True(t, msgs[0].CacheHit)
	require.True(t, msgs[1].Pending())

	in := db.queryInputs[0]
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *in.KeyConditionExpression)
	require.True(t, *in.ScanIndexForward)
	require.True(t, *in.ConsistentRead)
}

func TestListMessages_Paginates(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeMessageItem("CONV#abc", "MSG#1", "p1", "", "")},
			LastEvaluatedKey: keyItem("CONV#abc", "MSG#1"),
		},
		{
			Items: []map[string]types.AttributeValue{makeMessageItem("CONV#abc", "MSG#2", "p2", "", "")},
		},
	}}
	c := mustNewClient(t, db)
	msgs, err := c.ListMessages(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "p2", msgs[1].Prompt)
	require.Len(t, db.queryInputs, 2)
}

func TestListMessages_EmptyResult(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{}}}
	c := mustNewClient(t, db)
	msgs, err := c.ListMessages(context.Background(), "abc")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestListMessages_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)
	_, err := c.ListMessages(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListMessages")
}

func TestListMessages_MalformedItem_MissingPrompt(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{keyItem("CONV#abc", "MSG#ts")},
	}}}
	c := mustNewClient(t, db)
	_, err := c.ListMessages(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prompt")
}

func draftMessage() domain.Message {
	return domain.Message{
		ID:           "m1",
		SessionID:    "abc",
		Timestamp:    time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC),
		Prompt:       "Who are you?",
		PromptTokens: 4,
		Status:       domain.StatusDrafted,
	}
}

func TestInsertMessage_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.InsertMessage(context.Background(), draftMessage()))
	require.Equal(t, "CONV#abc", db.lastPutInput.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "MSG#2026-02-25T10:00:00.000000000Z#m1", db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Who are you?", db.lastPutInput.Item["prompt"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "", db.lastPutInput.Item["completion"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, domain.StatusDrafted, db.lastPutInput.Item["status"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestInsertMessage_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	err := c.InsertMessage(context.Background(), draftMessage())
	require.Error(t, err)
	require.Contains(t, err.Error(), "InsertMessage")
}

func TestInsertMessage_MissingKeys(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.InsertMessage(context.Background(), domain.Message{SK: "MSG#ts"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")

	err = c.InsertMessage(context.Background(), domain.Message{PK: "CONV#abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func completedMessage() domain.Message {
	msg := draftMessage()
	msg.Completion = "I am your assistant."
	msg.CompletionTokens = 6
	msg.Status = domain.StatusCompleted
	return msg
}

func TestSaveTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	msg := completedMessage()

	err := c.SaveTurn(context.Background(), msg, domain.Session{ID: "abc", Tokens: 10, Version: 3})
	require.NoError(t, err)
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.NotNil(t, put)
	require.Equal(t, "attribute_exists(PK) AND #status = :drafted", *put.ConditionExpression)
	require.Equal(t, "I am your assistant.", put.Item["completion"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, domain.StatusCompleted, put.Item["status"].(*types.AttributeValueMemberS).Value)

	update := db.lastTxInput.TransactItems[1].Update
	require.NotNil(t, update)
	require.Equal(t, "#version = :expected", *update.ConditionExpression)
	require.Equal(t, "10", update.ExpressionAttributeValues[":tokens"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "3", update.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "4", update.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberN).Value)
}

func TestSaveTurn_VersionConflict(t *testing.T) {
	db := &fakeDynamo{txErr: conditionalFailure("None", "ConditionalCheckFailed")}
	c := mustNewClient(t, db)
	err := c.SaveTurn(context.Background(), completedMessage(), domain.Session{ID: "abc", Version: 1})
	require.ErrorIs(t, err, domain.ErrConflict)
	require.Contains(t, err.Error(), "SaveTurn")
}

func TestSaveTurn_DraftMissing(t *testing.T) {
	db := &fakeDynamo{txErr: conditionalFailure("ConditionalCheckFailed", "None")}
	c := mustNewClient(t, db)
	err := c.SaveTurn(context.Background(), completedMessage(), domain.Session{ID: "abc", Version: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveTurn_DynamoError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("transaction canceled")}
	c := mustNewClient(t, db)
	err := c.SaveTurn(context.Background(), completedMessage(), domain.Session{ID: "abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveTurn")
	require.NotErrorIs(t, err, domain.ErrConflict)
}

func TestSaveTurn_MissingMessagePK(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveTurn(context.Background(), domain.Message{ID: "m1"}, domain.Session{ID: "abc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "message PK")
}

func TestSaveTurn_MissingSessionID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveTurn(context.Background(), completedMessage(), domain.Session{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "session id")
}

func TestExecuteBatch_RejectsMixedPartitions(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	msg, err := withKeys(completedMessage())
	require.NoError(t, err)
	err = c.ExecuteBatch(context.Background(),
		PutMessage{Message: msg},
		UpdateSessionTokens{SessionID: "other", Tokens: 1},
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "share partition")
	require.Nil(t, db.lastTxInput, "nothing must be sent for a mixed batch")
}

func TestExecuteBatch_Empty(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.ExecuteBatch(context.Background()))
}

func TestDeleteSessionAndMessages_SingleTransaction(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			keyItem("CONV#abc", skMeta),
			keyItem("CONV#abc", "MSG#1"),
			keyItem("CONV#abc", "MSG#2"),
		},
	}}}
	c := mustNewClient(t, db)
	require.NoError(t, c.DeleteSessionAndMessages(context.Background(), "abc"))
	require.Len(t, db.txInputs, 1)
	items := db.lastTxInput.TransactItems
	require.Len(t, items, 3)
	for _, it := range items {
		require.NotNil(t, it.Delete)
		require.Equal(t, "CONV#abc", it.Delete.Key["PK"].(*types.AttributeValueMemberS).Value)
	}
	require.Equal(t, skMeta, items[2].Delete.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "PK, SK", *db.queryInputs[0].ProjectionExpression)
}

func TestDeleteSessionAndMessages_ChunksLargePartitions(t *testing.T) {
	items := []map[string]types.AttributeValue{keyItem("CONV#abc", skMeta)}
	for i := 0; i < 150; i++ {
		items = append(items, keyItem("CONV#abc", fmt.Sprintf("MSG#%03d", i)))
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: items}}}
	c := mustNewClient(t, db)
	require.NoError(t, c.DeleteSessionAndMessages(context.Background(), "abc"))
	require.Len(t, db.txInputs, 2)
	require.Len(t, db.txInputs[0].TransactItems, 100)
	require.Len(t, db.txInputs[1].TransactItems, 51)
	last := db.txInputs[1].TransactItems[50]
	require.Equal(t, skMeta, last.Delete.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestDeleteSessionAndMessages_Missing(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{}}}
	c := mustNewClient(t, db)
	err := c.DeleteSessionAndMessages(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, db.txInputs)
}

func TestDeleteSessionAndMessages_TxError(t *testing.T) {
	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{keyItem("CONV#abc", skMeta)}}},
		txErr:     errors.New("transaction canceled"),
	}
	c := mustNewClient(t, db)
	err := c.DeleteSessionAndMessages(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeleteSessionAndMessages")
}

func TestWithKeys(t *testing.T) {
	msg, err := withKeys(draftMessage())
	require.NoError(t, err)
	require.Equal(t, "CONV#abc", msg.PK)
	require.Equal(t, msgSK(draftMessage().Timestamp, "m1"), msg.SK)

	explicit := domain.Message{PK: "CONV#x", SK: "MSG#y"}
	msg, err = withKeys(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, msg)

	_, err = withKeys(domain.Message{SessionID: "abc"})
	require.Error(t, err)
}

func TestMsgSK_SortsChronologically(t *testing.T) {
	base := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		older, newer time.Time
	}{
		{base, base.Add(time.Second)},
		{base, base.Add(500 * time.Millisecond)},
		{base.Add(100 * time.Millisecond), base.Add(150 * time.Millisecond)},
		{base.Add(123450 * time.Microsecond), base.Add(123456 * time.Microsecond)},
		{base.Add(999999999 * time.Nanosecond), base.Add(time.Second)},
		{base.In(time.FixedZone("CET", 3600)), base.Add(time.Nanosecond)},
	}
	for _, tc := range cases {
		older, newer := msgSK(tc.older, "z"), msgSK(tc.newer, "a")
		require.Less(t, older, newer)
		require.Len(t, newer, len(older))
	}
	require.Equal(t, "MSG#2026-02-25T10:00:00.100000000Z#m1", msgSK(base.Add(100*time.Millisecond), "m1"))
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
