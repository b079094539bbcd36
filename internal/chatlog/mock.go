package chatlog

import (
	"github.com/duochat/duochat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockLog struct {
	mock.Mock
}

func (m *MockLog) Append(conversationId string, msg types.ChatMessage) error {
	args := m.Called(conversationId, msg)
	return args.Error(0)
}
func (m *MockLog) ReadAll(conversationId string) ([]types.ChatMessage, error) {
	args := m.Called(conversationId)
	if msgs, ok := args.Get(0).([]types.ChatMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLog) Subscribe(conversationId string, fn func([]types.ChatMessage)) int {
	args := m.Called(conversationId, fn)
	return args.Int(0)
}
func (m *MockLog) Unsubscribe(conversationId string, token int) {
	m.Called(conversationId, token)
}
