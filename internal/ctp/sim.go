package ctp

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// SimAPI is the offline fallback used when the native SDK is unavailable.
// It completes the connect/login handshake immediately so every other code
// path can run in tests and simulations; market-data subscriptions are
// accepted but produce no data.
type SimAPI struct {
	mu  sync.Mutex
	spi MdSpi
}

// NewSimAPI returns a fresh simulated handle.
func NewSimAPI() MdAPI {
	return &SimAPI{}
}

func (s *SimAPI) RegisterFront(addr string) {
	log.Debug().Str("front", addr).Msg("sim md api: front registered")
}

func (s *SimAPI) RegisterSpi(spi MdSpi) {
	s.mu.Lock()
	s.spi = spi
	s.mu.Unlock()
}

// Init reports the front connected on a separate goroutine, mimicking the
// native SDK's asynchronous bring-up and its callback threading.
func (s *SimAPI) Init() {
	s.mu.Lock()
	spi := s.spi
	s.mu.Unlock()
	if spi == nil {
		return
	}
	go spi.OnFrontConnected()
}

// ReqUserLogin always succeeds, delivering the response asynchronously.
func (s *SimAPI) ReqUserLogin(req *LoginRequest, requestID int) int {
	s.mu.Lock()
	spi := s.spi
	s.mu.Unlock()
	if spi == nil {
		return -1
	}
	go spi.OnRspUserLogin(&RspInfo{}, requestID, true)
	return 0
}

func (s *SimAPI) SubscribeMarketData(symbols [][]byte) int {
	log.Debug().Int("count", len(symbols)).Msg("sim md api: subscribe accepted, no data will flow")
	return 0
}

func (s *SimAPI) UnSubscribeMarketData(symbols [][]byte) int {
	return 0
}

func (s *SimAPI) Release() {
	s.mu.Lock()
	s.spi = nil
	s.mu.Unlock()
}
