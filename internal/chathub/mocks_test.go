package chathub_test

import (
	"context"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/swap"

	"github.com/stretchr/testify/mock"
)

type MockSwapService struct {
	mock.Mock
}

func (m *MockSwapService) Request(ctx context.Context, chatID, userID string, minutes int) (*swap.RequestResult, error) {
	args := m.Called(chatID, userID, minutes)
	res, _ := args.Get(0).(*swap.RequestResult)
	return res, args.Error(1)
}

func (m *MockSwapService) Confirm(ctx context.Context, chatID, userID string) (*swap.ConfirmResult, error) {
	args := m.Called(chatID, userID)
	res, _ := args.Get(0).(*swap.ConfirmResult)
	return res, args.Error(1)
}

func (m *MockSwapService) Cancel(ctx context.Context, chatID, userID string) (*swap.CancelResult, error) {
	args := m.Called(chatID, userID)
	res, _ := args.Get(0).(*swap.CancelResult)
	return res, args.Error(1)
}

func (m *MockSwapService) SendMessage(ctx context.Context, chatID, senderID, content, clientID string) (*swap.SendResult, error) {
	args := m.Called(chatID, senderID, content, clientID)
	res, _ := args.Get(0).(*swap.SendResult)
	return res, args.Error(1)
}

func (m *MockSwapService) ReleaseOnDisconnect(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSwapService) OnConnect(ctx context.Context, chatID, userID string) ([]models.Event, error) {
	args := m.Called(chatID, userID)
	events, _ := args.Get(0).([]models.Event)
	return events, args.Error(1)
}
