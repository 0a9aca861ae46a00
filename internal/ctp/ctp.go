// Package ctp declares the contract with the native CTP market-data SDK.
// The SDK itself is an opaque callback source; the gateway only depends on
// these interfaces, which lets tests and offline runs substitute fakes.
package ctp

// RawTick mirrors the CThostFtdcDepthMarketDataField record delivered by
// OnRtnDepthMarketData. Prices are raw float64 exactly as the SDK hands
// them over; conversion to decimals happens in the ingest pipeline.
type RawTick struct {
	InstrumentID   string
	ExchangeID     string
	TradingDay     string // YYYYMMDD
	UpdateTime     string // HH:MM:SS
	UpdateMillisec int

	LastPrice    float64
	Volume       int64
	Turnover     float64
	OpenInterest float64

	BidPrice1  float64
	BidVolume1 int64
	AskPrice1  float64
	AskVolume1 int64

	// Levels 2-5 are populated only on level-2 feeds.
	BidPrice2, BidPrice3, BidPrice4, BidPrice5     float64
	BidVolume2, BidVolume3, BidVolume4, BidVolume5 int64
	AskPrice2, AskPrice3, AskPrice4, AskPrice5     float64
	AskVolume2, AskVolume3, AskVolume4, AskVolume5 int64

	PreClosePrice      float64
	PreSettlementPrice float64
	UpperLimitPrice    float64
	LowerLimitPrice    float64
}

// RspInfo is the SDK's error descriptor; ErrorID zero means success.
type RspInfo struct {
	ErrorID  int
	ErrorMsg string
}

// Failed reports whether the response carries an error.
func (r *RspInfo) Failed() bool {
	return r != nil && r.ErrorID != 0
}

// LoginRequest carries the ReqUserLogin fields.
type LoginRequest struct {
	BrokerID string
	UserID   string
	Password string
	AuthCode string
	AppID    string
}

// MdSpi is the callback receiver registered with the SDK. All methods are
// invoked on the SDK's own worker thread; implementations must only
// schedule work, never mutate gateway state directly.
type MdSpi interface {
	OnFrontConnected()
	OnFrontDisconnected(reason int)
	OnRspUserLogin(rsp *RspInfo, requestID int, isLast bool)
	OnRtnDepthMarketData(data *RawTick)
	OnRspSubMarketData(instrumentID string, rsp *RspInfo, requestID int, isLast bool)
}

// MdAPI is the callable surface of the native market-data handle.
// Symbols cross the boundary as UTF-8 byte strings, matching the SDK ABI.
// A return value of zero from the request methods means accepted.
type MdAPI interface {
	RegisterFront(addr string)
	RegisterSpi(spi MdSpi)
	Init()
	ReqUserLogin(req *LoginRequest, requestID int) int
	SubscribeMarketData(symbols [][]byte) int
	UnSubscribeMarketData(symbols [][]byte) int
	Release()
}

// Factory creates a fresh native handle. The gateway calls it on connect
// and again on every reconnect attempt after releasing the old handle.
type Factory func() MdAPI

// EncodeSymbols converts instrument IDs to the SDK's byte-string form.
func EncodeSymbols(symbols []string) [][]byte {
	out := make([][]byte, len(symbols))
	for i, s := range symbols {
		out[i] = []byte(s)
	}
	return out
}
