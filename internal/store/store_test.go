package store

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func newTestStore() (*Store, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return New(db), mock
}

func TestStore_SetNX(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	mock.ExpectSetNX("lock:master", "100", 0).SetVal(true)
	ok, err := s.SetNX(ctx, "lock:master", "100")
	assert.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("lock:master", "200", 0).SetVal(false)
	ok, err = s.SetNX(ctx, "lock:master", "200")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetMissingReturnsEmpty(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	mock.ExpectGet("client:ghost").RedisNil()
	v, err := s.Get(ctx, "client:ghost")
	assert.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestStore_GetPropagatesOtherErrors(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	mock.ExpectGet("client:x").SetErr(errors.New("boom"))
	_, err := s.Get(ctx, "client:x")
	assert.Error(t, err)
}

func TestStore_HistoryTrimAndRange(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	mock.ExpectRPush("history:c1:cpu", "2").SetVal(1)
	assert.NoError(t, s.RPush(ctx, "history:c1:cpu", "2"))

	mock.ExpectLRange("history:c1:cpu", int64(0), int64(20)).SetVal([]string{"0", "0", "2"})
	vals, err := s.LRange(ctx, "history:c1:cpu", 0, 20)
	assert.NoError(t, err)
	assert.Equal(t, []string{"0", "0", "2"}, vals)

	mock.ExpectLTrim("history:c1:cpu", int64(-21), int64(-1)).SetVal("OK")
	assert.NoError(t, s.LTrim(ctx, "history:c1:cpu", -21, -1))
}
