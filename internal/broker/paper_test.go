package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

func marketOrder(symbol string, side models.OrderSide, qty int) *models.Order {
	return &models.Order{
		Symbol:   symbol,
		Exchange: models.NFO,
		Side:     side,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductMIS,
		Quantity: qty,
	}
}

func TestPaperBrokerFillsAtSeededPrice(t *testing.T) {
	p := NewPaperBroker(nil)
	p.UpdatePrice("NIFTY24JAN24950CE", 120)

	res, err := p.PlaceOrder(context.Background(), marketOrder("NIFTY24JAN24950CE", models.OrderSideBuy, 75))
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", res.Status)

	positions, err := p.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 75, positions[0].Quantity)
	assert.Equal(t, 120.0, positions[0].AveragePrice)

	p.UpdatePrice("NIFTY24JAN24950CE", 130)
	positions, _ = p.GetPositions(context.Background())
	assert.Equal(t, 750.0, positions[0].PnL)
}

func TestPaperBrokerClosesPosition(t *testing.T) {
	p := NewPaperBroker(nil)
	p.UpdatePrice("BANKNIFTY2420748100PE", 200)

	_, err := p.PlaceOrder(context.Background(), marketOrder("BANKNIFTY2420748100PE", models.OrderSideBuy, 30))
	require.NoError(t, err)
	_, err = p.PlaceOrder(context.Background(), marketOrder("BANKNIFTY2420748100PE", models.OrderSideSell, 30))
	require.NoError(t, err)

	positions, err := p.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)

	orders, err := p.GetOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestPaperBrokerRejectsWithoutPrice(t *testing.T) {
	p := NewPaperBroker(nil)
	_, err := p.PlaceOrder(context.Background(), marketOrder("NIFTY24JAN24950CE", models.OrderSideBuy, 75))
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestPaperBrokerGTT(t *testing.T) {
	p := NewPaperBroker(nil)

	_, err := p.PlaceGTT(context.Background(), &models.GTTOrder{Symbol: "X"})
	assert.Error(t, err)

	res, err := p.PlaceGTT(context.Background(), &models.GTTOrder{Symbol: "X", StopLossPrice: 90, TargetPrice: 150, Quantity: 75})
	require.NoError(t, err)
	assert.Equal(t, "PAPER_GTT_1", res.TriggerID)
	require.Len(t, p.GetGTTs(), 1)

	p.Reset()
	assert.Empty(t, p.GetGTTs())
}
