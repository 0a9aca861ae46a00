package recorder

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"ctp-md-gateway/internal/model"
)

func TestNewTickRow(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 30, 0, 500e6, time.UTC)
	tick := model.NewTick("rb2501", "SHFE", ts, decimal.NewFromFloat(3501.5))
	tick.Volume = 120
	tick.Turnover = decimal.NewFromFloat(4.2e6)
	tick.OpenInterest = 98000
	tick.BidPrice1 = decimal.NewFromFloat(3501.0)
	tick.BidVolume1 = 12
	tick.AskPrice1 = decimal.NewFromFloat(3502.0)
	tick.AskVolume1 = 7
	tick.GatewayName = "ctp_market"
	tick.Status = model.StatusValid

	row := newTickRow(tick)

	assert.Equal(t, "rb2501", row.Symbol)
	assert.Equal(t, "SHFE", row.Exchange)
	assert.Equal(t, ts, row.TS)
	assert.Equal(t, "3501.5", row.LastPrice)
	assert.Equal(t, int64(120), row.Volume)
	assert.Equal(t, "3501", row.BidPrice1)
	assert.Equal(t, "VALID", row.Status)
	assert.Equal(t, "ctp_market", row.GatewayName)
}
