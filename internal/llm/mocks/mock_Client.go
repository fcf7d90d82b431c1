// Package mocks provides test doubles for the llm client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the llm.Client interface.
type MockClient struct {
	mock.Mock
}

// Complete provides a mock function with given fields: ctx, prompt, maxTokens
func (_m *MockClient) Complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	ret := _m.Called(ctx, prompt, maxTokens)

	if len(ret) == 0 {
		panic("no return value specified for Complete")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, int64) (string, error)); ok {
		return rf(ctx, prompt, maxTokens)
	}

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, int64) string); ok {
		r0 = rf(ctx, prompt, maxTokens)
	} else {
		r0 = ret.String(0)
	}

	return r0, ret.Error(1)
}

// NewMockClient creates a MockClient and registers expectation assertions
// with t's cleanup.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
