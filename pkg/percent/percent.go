// Package percent provides a fixed-point percentage type.
//
// Values are stored as decimals rounded half-even to Scale places, so ledger
// totals built from many small closes compare exactly against limits.
package percent

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places every Percent carries.
const Scale = 6

// Percent is a percentage value, e.g. 3.5 means 3.5%.
type Percent struct {
	d decimal.Decimal
}

// Zero is 0%.
var Zero = Percent{}

var hundred = decimal.NewFromInt(100)

func fromDecimal(d decimal.Decimal) Percent {
	return Percent{d: d.RoundBank(Scale)}
}

// New returns p% from a float, e.g. New(3) is 3%.
func New(v float64) Percent {
	return fromDecimal(decimal.NewFromFloat(v))
}

// FromInt returns v%.
func FromInt(v int64) Percent {
	return fromDecimal(decimal.NewFromInt(v))
}

// Parse parses a decimal string such as "2.5".
func Parse(s string) (Percent, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse percent %q: %w", s, err)
	}
	return fromDecimal(d), nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Percent {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Ratio returns (num/den)*100. A zero denominator yields Zero.
func Ratio(num, den decimal.Decimal) Percent {
	if den.IsZero() {
		return Zero
	}
	return fromDecimal(num.Mul(hundred).DivRound(den, Scale+4))
}

// Decimal returns the underlying value.
func (p Percent) Decimal() decimal.Decimal { return p.d }

// Float64 returns the value as a float for display.
func (p Percent) Float64() float64 {
	f, _ := p.d.Float64()
	return f
}

func (p Percent) Add(q Percent) Percent { return fromDecimal(p.d.Add(q.d)) }
func (p Percent) Sub(q Percent) Percent { return fromDecimal(p.d.Sub(q.d)) }
func (p Percent) Neg() Percent          { return Percent{d: p.d.Neg()} }
func (p Percent) Abs() Percent          { return Percent{d: p.d.Abs()} }

// Mul scales p by a plain factor (not a percent).
func (p Percent) Mul(f decimal.Decimal) Percent { return fromDecimal(p.d.Mul(f)) }

// Of returns what share of limit p represents, as a fraction (0.7 == 70%).
// A non-positive limit yields zero.
func (p Percent) Of(limit Percent) decimal.Decimal {
	if !limit.d.IsPositive() {
		return decimal.Zero
	}
	return p.d.DivRound(limit.d, Scale+4)
}

func (p Percent) Cmp(q Percent) int             { return p.d.Cmp(q.d) }
func (p Percent) Equal(q Percent) bool          { return p.d.Equal(q.d) }
func (p Percent) LessThan(q Percent) bool       { return p.d.LessThan(q.d) }
func (p Percent) LessOrEqual(q Percent) bool    { return p.d.LessThanOrEqual(q.d) }
func (p Percent) GreaterThan(q Percent) bool    { return p.d.GreaterThan(q.d) }
func (p Percent) GreaterOrEqual(q Percent) bool { return p.d.GreaterThanOrEqual(q.d) }
func (p Percent) IsZero() bool                  { return p.d.IsZero() }
func (p Percent) IsNegative() bool              { return p.d.IsNegative() }
func (p Percent) IsPositive() bool              { return p.d.IsPositive() }

// Loss returns the magnitude of a negative value and zero otherwise.
func (p Percent) Loss() Percent {
	if p.d.IsNegative() {
		return Percent{d: p.d.Neg()}
	}
	return Zero
}

// Max returns the larger of p and q.
func Max(p, q Percent) Percent {
	if p.GreaterThan(q) {
		return p
	}
	return q
}

// Min returns the smaller of p and q.
func Min(p, q Percent) Percent {
	if p.LessThan(q) {
		return p
	}
	return q
}

// String renders the value without a trailing % sign.
func (p Percent) String() string { return p.d.String() }

// MarshalJSON encodes the value as a bare JSON number.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.d.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (p *Percent) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode percent: %w", err)
	}
	*p = fromDecimal(d)
	return nil
}

// MarshalText implements encoding.TextMarshaler, used by the YAML policy file.
func (p Percent) MarshalText() ([]byte, error) {
	return []byte(p.d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Percent) UnmarshalText(text []byte) error {
	q, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = q
	return nil
}
