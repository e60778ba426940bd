package mock

import (
	"github.com/stretchr/testify/mock"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/ingestion"
)

// ConsumerMock is a testify mock of ingestion.ConsumerInterface.
type ConsumerMock struct {
	mock.Mock
}

var _ ingestion.ConsumerInterface = (*ConsumerMock)(nil)

func (m *ConsumerMock) Setup() error {
	args := m.Called()
	return args.Error(0)
}

func (m *ConsumerMock) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *ConsumerMock) Stop() {
	m.Called()
}
