package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mozilla-services/keyretrieval/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeTable = "keydata"

type fakeAttributeValue struct {
	S *string `json:"S,omitempty"`
	B []byte  `json:"B,omitempty"`
}

type fakeDynamoDBRequest struct {
	TableName           string
	Key                 map[string]fakeAttributeValue
	Item                map[string]fakeAttributeValue
	ConditionExpression string
}

// fakeDynamoDB speaks just enough of the DynamoDB JSON API for
// DynamoDBStore: one table, hash key "userid", binary "data".
type fakeDynamoDB struct {
	mu     sync.Mutex
	items  map[string][]byte
	broken bool
}

func (f *fakeDynamoDB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req fakeDynamoDBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDynamoDBError(w, "SerializationException")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		writeDynamoDBError(w, "ValidationException")
		return
	}
	if req.TableName != fakeTable {
		writeDynamoDBError(w, "ResourceNotFoundException")
		return
	}
	op := strings.TrimPrefix(r.Header.Get("X-Amz-Target"), "DynamoDB_20120810.")
	switch op {
	case "DescribeTable":
		writeDynamoDBResponse(w, map[string]any{
			"Table": map[string]any{
				"TableName": fakeTable,
				"ProvisionedThroughput": map[string]any{
					"ReadCapacityUnits":  1000,
					"WriteCapacityUnits": 1000,
				},
			},
		})
	case "GetItem":
		userID := *req.Key["userid"].S
		data, ok := f.items[userID]
		if !ok {
			writeDynamoDBResponse(w, map[string]any{})
			return
		}
		writeDynamoDBResponse(w, map[string]any{
			"Item": map[string]any{
				"userid": map[string]any{"S": userID},
				"data":   map[string]any{"B": data},
			},
		})
	case "PutItem":
		data := req.Item["data"].B
		if data == nil {
			data = []byte{}
		}
		f.items[*req.Item["userid"].S] = data
		writeDynamoDBResponse(w, map[string]any{})
	case "DeleteItem":
		userID := *req.Key["userid"].S
		if _, ok := f.items[userID]; !ok && req.ConditionExpression == "attribute_exists(userid)" {
			writeDynamoDBError(w, "ConditionalCheckFailedException")
			return
		}
		delete(f.items, userID)
		writeDynamoDBResponse(w, map[string]any{})
	default:
		writeDynamoDBError(w, "UnknownOperationException")
	}
}

func writeDynamoDBResponse(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	_ = json.NewEncoder(w).Encode(body)
}

func writeDynamoDBError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"__type":  "com.amazonaws.dynamodb.v20120810#" + code,
		"message": code,
	})
}

func newFakeDynamoDB(t *testing.T) (*fakeDynamoDB, string) {
	fake := &fakeDynamoDB{items: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv.URL
}

func dynamoDBOptions(endpoint string) []storage.Option {
	return []storage.Option{
		storage.WithRegion("us-east-1"),
		storage.WithEndpoint(endpoint),
		storage.WithStaticCredentials("AKIDEXAMPLE", "secret"),
	}
}

func newFakeDynamoDBStore(t *testing.T) *storage.DynamoDBStore {
	_, endpoint := newFakeDynamoDB(t)
	store, err := storage.NewDynamoDBStore(fakeTable, dynamoDBOptions(endpoint)...)
	require.Nil(t, err)
	return store
}

func TestDynamoDBStoreMissingTable(t *testing.T) {
	_, endpoint := newFakeDynamoDB(t)
	_, err := storage.NewDynamoDBStore("nope", dynamoDBOptions(endpoint)...)
	assert.NotNil(t, err)
}

func TestDynamoDBStoreUnavailable(t *testing.T) {
	fake, endpoint := newFakeDynamoDB(t)
	store, err := storage.NewDynamoDBStore(fakeTable, dynamoDBOptions(endpoint)...)
	require.Nil(t, err)
	ctx := context.Background()
	require.Nil(t, store.Ping(ctx))

	t.Run("throttling gives up when the context is done", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Get(cancelled, "user1")
		assert.True(t, errors.Is(err, storage.ErrUnavailable))
		err = store.Set(cancelled, "user1", []byte("TEST"))
		assert.True(t, errors.Is(err, storage.ErrUnavailable))
		err = store.Delete(cancelled, "user1")
		assert.True(t, errors.Is(err, storage.ErrUnavailable))
		assert.False(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("service errors", func(t *testing.T) {
		fake.mu.Lock()
		fake.broken = true
		fake.mu.Unlock()
		_, err := store.Get(ctx, "user1")
		assert.True(t, errors.Is(err, storage.ErrUnavailable))
		assert.True(t, errors.Is(store.Set(ctx, "user1", []byte("TEST")), storage.ErrUnavailable))
		err = store.Delete(ctx, "user1")
		assert.True(t, errors.Is(err, storage.ErrUnavailable))
		assert.False(t, errors.Is(err, storage.ErrNotFound))
		assert.True(t, errors.Is(store.Ping(ctx), storage.ErrUnavailable))
	})
}
