package mock

import (
	"context"
	"errors"
	"sync"

	"copytrader/internal/core"
)

// MockControlServer implements core.IControlServer in memory
type MockControlServer struct {
	mu        sync.Mutex
	hash      string
	commands  []core.Command
	statusErr error

	reports []core.Report
	opened  []core.OpenTradeRequest
	closed  []core.CloseTradeRequest
	tradeID int64

	// ReportErr, OpenErr and CloseErr make the matching call fail
	ReportErr error
	OpenErr   error
	CloseErr  error

	statusCalls int
	ordersCalls int
}

var _ core.IControlServer = (*MockControlServer)(nil)

// NewMockControlServer creates a server with an empty queue
func NewMockControlServer() *MockControlServer {
	return &MockControlServer{tradeID: 500}
}

// SetCommands replaces the command queue and changes the hash
func (m *MockControlServer) SetCommands(hash string, cmds []core.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hash = hash
	m.commands = cmds
}

// SetStatusError makes Status fail with err, nil restores it
func (m *MockControlServer) SetStatusError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

func (m *MockControlServer) Status(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.statusErr != nil {
		return "", m.statusErr
	}
	return m.hash, nil
}

func (m *MockControlServer) Orders(ctx context.Context) ([]core.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordersCalls++
	out := make([]core.Command, len(m.commands))
	copy(out, m.commands)
	return out, nil
}

func (m *MockControlServer) SendReport(ctx context.Context, report core.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return m.ReportErr
}

func (m *MockControlServer) OpenTrade(ctx context.Context, req core.OpenTradeRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return 0, m.OpenErr
	}
	m.opened = append(m.opened, req)
	m.tradeID++
	return m.tradeID, nil
}

func (m *MockControlServer) CloseTrade(ctx context.Context, req core.CloseTradeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	if req.TradeID == 0 {
		return errors.New("unknown trade")
	}
	m.closed = append(m.closed, req)
	return nil
}

// Reports returns every report received
func (m *MockControlServer) Reports() []core.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Report(nil), m.reports...)
}

// OpenedTrades returns every registered open
func (m *MockControlServer) OpenedTrades() []core.OpenTradeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.OpenTradeRequest(nil), m.opened...)
}

// ClosedTrades returns every registered close
func (m *MockControlServer) ClosedTrades() []core.CloseTradeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.CloseTradeRequest(nil), m.closed...)
}

// Calls returns how often Status and Orders were called
func (m *MockControlServer) Calls() (status, orders int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls, m.ordersCalls
}
