package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

//
// Complete mock client for running and testing the core without a real terminal
//

// Ensure MockClient implements Client interface
var _ Client = (*MockClient)(nil)

// MockClient is an in-memory implementation of the Client interface. Tests
// and simulation runs script its ticks and seed its positions directly.
type MockClient struct {
	mu           sync.RWMutex
	positions    map[int64]*Position
	ticks        map[string]*Tick
	specs        map[string]SymbolSpec
	account      AccountInfo
	nextTicket   int64
	tradeAllowed bool

	// fault injection for tests
	executeErr   error
	closeErr     error
	positionsErr error

	executedOrders []OrderRequest
	closedVolumes  map[int64]float64
}

// NewMockClient creates a mock client with trading allowed and an empty book.
func NewMockClient() *MockClient {
	return &MockClient{
		positions:     make(map[int64]*Position),
		ticks:         make(map[string]*Tick),
		specs:         make(map[string]SymbolSpec),
		account:       AccountInfo{Balance: 10000, Equity: 10000},
		nextTicket:    1000,
		tradeAllowed:  true,
		closedVolumes: make(map[int64]float64),
	}
}

// SetTick publishes the current tick for a symbol.
func (c *MockClient) SetTick(symbol string, tick *Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tick.Spread == 0 {
		if spec, ok := c.specs[symbol]; ok && spec.Point > 0 {
			tick.Spread = (tick.Ask - tick.Bid) / spec.Point
		}
	}
	c.ticks[symbol] = tick
}

// SetSymbolSpec registers instrument metadata.
func (c *MockClient) SetSymbolSpec(spec SymbolSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.Symbol] = spec
}

// SetAccountInfo overrides the simulated account figures.
func (c *MockClient) SetAccountInfo(info AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = info
}

// SetTradeAllowed toggles the simulated trade-allowed flag.
func (c *MockClient) SetTradeAllowed(allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradeAllowed = allowed
}

// SeedPosition inserts a position with an explicit ticket, for test setup.
func (c *MockClient) SeedPosition(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := p
	c.positions[p.Ticket] = &cp
	if p.Ticket >= c.nextTicket {
		c.nextTicket = p.Ticket + 1
	}
}

// FailNextExecute makes the next ExecuteOrder calls return err (nil clears).
func (c *MockClient) FailNextExecute(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executeErr = err
}

// FailNextClose makes ClosePosition return err (nil clears).
func (c *MockClient) FailNextClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// FailPositions makes GetPositions return err (nil clears).
func (c *MockClient) FailPositions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positionsErr = err
}

// ExecutedOrders returns every order request accepted so far.
func (c *MockClient) ExecutedOrders() []OrderRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]OrderRequest, len(c.executedOrders))
	copy(out, c.executedOrders)
	return out
}

// ClosedVolume reports the total volume closed against a ticket.
func (c *MockClient) ClosedVolume(ticket int64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closedVolumes[ticket]
}

func (c *MockClient) GetPositions() ([]Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.positionsErr != nil {
		return nil, c.positionsErr
	}
	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (c *MockClient) GetTick(symbol string) (*Tick, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.ticks[symbol]
	if !ok {
		return nil, fmt.Errorf("no tick available for %s", symbol)
	}
	cp := *tick
	return &cp, nil
}

func (c *MockClient) LastTick(symbol string) (*Tick, error) {
	return c.GetTick(symbol)
}

func (c *MockClient) IsTradeAllowed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tradeAllowed
}

func (c *MockClient) ExecuteOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.executeErr != nil {
		return nil, c.executeErr
	}
	if !c.tradeAllowed {
		return nil, fmt.Errorf("trading disabled on terminal")
	}
	if req.Volume <= 0 {
		return nil, fmt.Errorf("invalid order volume %.4f", req.Volume)
	}

	ticket := c.nextTicket
	c.nextTicket++

	now := time.Now()
	if tick, ok := c.ticks[req.Symbol]; ok {
		now = tick.Time
	}
	c.positions[ticket] = &Position{
		Ticket:    ticket,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    req.Volume,
		PriceOpen: req.Price,
		OpenTime:  now,
	}
	c.executedOrders = append(c.executedOrders, *req)

	return &OrderResult{Ticket: ticket, Price: req.Price, Volume: req.Volume}, nil
}

func (c *MockClient) ClosePosition(ctx context.Context, ticket int64, volume float64, comment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeErr != nil {
		return c.closeErr
	}
	pos, ok := c.positions[ticket]
	if !ok {
		return ErrPositionNotFound
	}
	if volume <= 0 || volume > pos.Volume+1e-9 {
		return fmt.Errorf("invalid close volume %.4f for ticket %d (open %.4f)", volume, ticket, pos.Volume)
	}

	pos.Volume -= volume
	c.closedVolumes[ticket] += volume

	minLot := 0.01
	if spec, ok := c.specs[pos.Symbol]; ok && spec.MinLot > 0 {
		minLot = spec.MinLot
	}
	if pos.Volume < minLot {
		delete(c.positions, ticket)
	}
	return nil
}

func (c *MockClient) GetAccountInfo() (*AccountInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := c.account
	return &info, nil
}

func (c *MockClient) GetSymbolSpec(symbol string) (SymbolSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[symbol]
	return spec, ok
}
