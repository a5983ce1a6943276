package payroll

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func rulesJSON(t *testing.T, rules payroll.StatutoryRules) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(rules)
	if err != nil {
		t.Fatalf("marshal rules: %v", err)
	}
	return raw
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func quietEngine(concurrency int) *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)), concurrency)
}

// standardBrackets is 0% to 5000, 10% to 20000, 20% above.
func standardBrackets() []payroll.Bracket {
	return []payroll.Bracket{
		{Min: d("0"), Max: dp("5000"), Rate: d("0")},
		{Min: d("5000"), Max: dp("20000"), Rate: d("0.10")},
		{Min: d("20000"), Max: nil, Rate: d("0.20")},
	}
}
