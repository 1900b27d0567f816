package oracle

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// Oracle is a testify mock of the entry signal.
type Oracle struct {
	mock.Mock
}

func (_m *Oracle) IsBuySignal(ctx context.Context, pair domain.Pair) (bool, error) {
	ret := _m.Called(ctx, pair)
	return ret.Bool(0), ret.Error(1)
}

// NewOracle creates a mock that asserts its expectations when the test ends.
func NewOracle(t interface {
	mock.TestingT
	Cleanup(func())
}) *Oracle {
	m := &Oracle{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
