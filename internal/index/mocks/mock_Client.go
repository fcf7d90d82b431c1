// Package mocks provides test doubles for the index client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	index "github.com/sells-group/paper-cli/internal/index"
)

// MockClient is a mock type for the index.Client interface.
type MockClient struct {
	mock.Mock
}

// Upload provides a mock function with given fields: ctx, path, id
func (_m *MockClient) Upload(ctx context.Context, path string, id string) (index.Handle, error) {
	ret := _m.Called(ctx, path, id)

	if len(ret) == 0 {
		panic("no return value specified for Upload")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, string) (index.Handle, error)); ok {
		return rf(ctx, path, id)
	}
	return ret.Get(0).(index.Handle), ret.Error(1)
}

// Query provides a mock function with given fields: ctx, text, topK
func (_m *MockClient) Query(ctx context.Context, text string, topK int) ([]index.Hit, error) {
	ret := _m.Called(ctx, text, topK)

	if len(ret) == 0 {
		panic("no return value specified for Query")
	}

	var r0 []index.Hit
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]index.Hit)
	}
	return r0, ret.Error(1)
}

// Passages provides a mock function with given fields: ctx, query, id, limit
func (_m *MockClient) Passages(ctx context.Context, query string, id string, limit int) ([]string, error) {
	ret := _m.Called(ctx, query, id, limit)

	if len(ret) == 0 {
		panic("no return value specified for Passages")
	}

	var r0 []string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}
	return r0, ret.Error(1)
}
