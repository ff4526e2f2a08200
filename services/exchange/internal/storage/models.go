package storage

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

type OrderStatus string

const (
	StatusNew               OrderStatus = "NEW"
	StatusPartiallyExecuted OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted          OrderStatus = "EXECUTED"
	StatusCancelled         OrderStatus = "CANCELLED"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// Kind is either Limit or Market.
type Kind interface {
	kind()
}

type Limit struct {
	Price int64
}

type Market struct{}

func (Limit) kind()  {}
func (Market) kind() {}

// LimitPrice reports the price of a limit kind.
func LimitPrice(k Kind) (int64, bool) {
	if l, ok := k.(Limit); ok {
		return l.Price, true
	}
	return 0, false
}

type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Ticker    string
	Direction Direction
	Kind      Kind
	Qty       int64
	Filled    int64
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o Order) Remaining() int64 {
	return o.Qty - o.Filled
}

func (o Order) Price() (int64, bool) {
	return LimitPrice(o.Kind)
}

// Resting orders can still trade: not terminal and with quantity left.
// Partially executed orders rest and match, while the active order list
// (OrderFilter.ActiveOnly) stays NEW-only.
func (o Order) Resting() bool {
	return (o.Status == StatusNew || o.Status == StatusPartiallyExecuted) && o.Remaining() > 0
}

// FillStatus is the status implied by the current fill.
func (o Order) FillStatus() OrderStatus {
	switch {
	case o.Filled >= o.Qty:
		return StatusExecuted
	case o.Filled > 0:
		return StatusPartiallyExecuted
	default:
		return StatusNew
	}
}

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID           uuid.UUID
	Name         string
	Role         Role
	APIKeyPrefix string
	APIKeyHash   string
	CreatedAt    time.Time
}

type Instrument struct {
	Ticker    string
	Name      string
	Active    bool
	CreatedAt time.Time
}

type Balance struct {
	UserID uuid.UUID
	Ticker string
	Amount int64
}

type Transaction struct {
	ID          uuid.UUID
	Ticker      string
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Amount      int64
	Price       int64
	CreatedAt   time.Time
}

// CounterQuery selects resting orders an incoming order may trade against.
type CounterQuery struct {
	Ticker string
	// Incoming is the direction of the incoming order; counters are on the
	// opposite side.
	Incoming    Direction
	ExcludeUser uuid.UUID
	// LimitPrice filters to marketable counters when HasLimit is set.
	// Counters without a price always pass the filter.
	LimitPrice int64
	HasLimit   bool
	Limit      int
}

type OrderFilter struct {
	// ActiveOnly restricts to status NEW.
	ActiveOnly bool
	Cursor     string
	Limit      int
}
