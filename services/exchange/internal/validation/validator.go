package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "invalid request"
	}
	return fmt.Sprintf("invalid request: %s: %s", v[0].Field, v[0].Message)
}

var (
	tickerPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
	maxInt64      = decimal.NewFromInt(math.MaxInt64)
)

// OrderRequest is the raw order body. Price is empty for market orders.
type OrderRequest struct {
	Direction string
	Ticker    string
	Qty       string
	Price     string
}

// Order is a validated OrderRequest. HasPrice is false for market orders.
type Order struct {
	Direction string
	Ticker    string
	Qty       int64
	Price     int64
	HasPrice  bool
}

func ValidateOrderRequest(req OrderRequest) (Order, ValidationErrors) {
	var (
		errs ValidationErrors
		out  Order
	)

	out.Ticker = NormalizeTicker(req.Ticker)
	if err := checkTicker(out.Ticker); err != "" {
		errs = append(errs, FieldError{Field: "ticker", Message: err})
	}

	out.Direction = strings.ToUpper(strings.TrimSpace(req.Direction))
	if out.Direction != "BUY" && out.Direction != "SELL" {
		errs = append(errs, FieldError{Field: "direction", Message: "direction must be BUY or SELL"})
	}

	qty, err := ParsePositiveInt(req.Qty, "qty")
	if err != nil {
		errs = append(errs, FieldError{Field: "qty", Message: err.Error()})
	}
	out.Qty = qty

	if strings.TrimSpace(req.Price) != "" {
		price, err := ParsePositiveInt(req.Price, "price")
		if err != nil {
			errs = append(errs, FieldError{Field: "price", Message: err.Error()})
		}
		out.Price = price
		out.HasPrice = true
	}

	return out, errs
}

func ValidateInstrument(name, ticker string) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}
	if err := checkTicker(NormalizeTicker(ticker)); err != "" {
		errs = append(errs, FieldError{Field: "ticker", Message: err})
	}
	return errs
}

func ValidateUserName(name string) ValidationErrors {
	if len(strings.TrimSpace(name)) < 3 {
		return ValidationErrors{{Field: "name", Message: "name must be at least 3 characters"}}
	}
	return nil
}

// ValidateTicker is used for path parameters.
func ValidateTicker(ticker string) ValidationErrors {
	if err := checkTicker(ticker); err != "" {
		return ValidationErrors{{Field: "ticker", Message: err}}
	}
	return nil
}

// ParsePositiveInt accepts whole numbers in (0, MaxInt64]. "5.0" is
// accepted, "5.5" is not.
func ParsePositiveInt(raw, field string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", field)
	}
	if !val.IsInteger() {
		return 0, fmt.Errorf("%s must be a whole number", field)
	}
	if val.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	if val.GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%s is too large", field)
	}
	return val.IntPart(), nil
}

func NormalizeTicker(ticker string) string {
	return strings.TrimSpace(ticker)
}

func checkTicker(ticker string) string {
	if ticker == "" {
		return "ticker is required"
	}
	if !tickerPattern.MatchString(ticker) {
		return "ticker must be 2-10 uppercase letters or digits"
	}
	return ""
}
