package connection

import (
	"github.com/quillmq/quillmq-go/connection/frame"
	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	Notifier
	mock.Mock
}

func (m *MockNotifier) Signal(message *frame.Message) {
	m.Called(message)
}
