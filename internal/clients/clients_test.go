package clients

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c, err := New(Binance, "key", "secret")
	require.NoError(t, err)
	require.IsType(t, &binance.Client{}, c)

	c, err = New(Bybit, "key", "secret")
	require.NoError(t, err)
	require.IsType(t, &bybit.Client{}, c)

	c, err = New(Simulate, "", "")
	require.NoError(t, err)
	require.NotNil(t, c.(*SimulateClient).Public())

	_, err = New("kraken", "", "")
	require.ErrorContains(t, err, "unsupported platform: kraken")
}
