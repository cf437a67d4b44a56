package percent

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeatedSmallClosesDoNotDrift(t *testing.T) {
	total := Zero
	step := New(0.1)
	for i := 0; i < 30; i++ {
		total = total.Sub(step)
	}
	assert.True(t, total.Equal(New(-3)), "got %s", total)
	assert.True(t, total.Loss().GreaterOrEqual(FromInt(3)))
}

func TestRatio(t *testing.T) {
	p := Ratio(decimal.RequireFromString("0.005"), decimal.RequireFromString("1.1"))
	assert.Equal(t, "0.454545", p.String())

	assert.True(t, Ratio(decimal.NewFromInt(1), decimal.Zero).IsZero())
}

func TestOf(t *testing.T) {
	share := New(2.1).Of(New(3))
	assert.True(t, share.Equal(decimal.RequireFromString("0.7")))
	assert.True(t, New(1).Of(Zero).IsZero())
}

func TestLoss(t *testing.T) {
	assert.Equal(t, "3.1", New(-3.1).Loss().String())
	assert.True(t, New(2).Loss().IsZero())
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		P Percent `json:"p"`
	}
	out, err := json.Marshal(wrapper{P: New(2.5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":2.5}`, string(out))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"p":"1.25"}`), &w))
	assert.Equal(t, "1.25", w.P.String())

	require.Error(t, json.Unmarshal([]byte(`{"p":"abc"}`), &w))
}

func TestParse(t *testing.T) {
	p, err := Parse("12.5")
	require.NoError(t, err)
	assert.True(t, p.Equal(New(12.5)))

	_, err = Parse("twelve")
	require.Error(t, err)
}
