package redis

import (
	"testing"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"
)

func newTestStore(t *testing.T) (*Store, *mock.Client) {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	store := NewStoreForTest(client, Config{
		Addrs:        []string{"localhost:6379"},
		IndexName:    "recall_idx",
		KeyPrefix:    "recall:doc:",
		VectorDim:    4,
		FilterFields: []string{"lang", "source"},
	})
	return store, client
}

func testVector() []float32 {
	return []float32{0.1, 0.2, 0.3, 0.4}
}
