package internal

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/config"
)

func TestPreviewLadder_UnsupportedClient(t *testing.T) {
	_, err := PreviewLadder(context.Background(), zap.NewNop(), config.Config{}, struct{}{}, btc, decimal.NewFromInt(100))
	require.ErrorContains(t, err, "unsupported client type")
}
