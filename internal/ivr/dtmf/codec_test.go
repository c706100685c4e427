package dtmf

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmountCents_RoundTrip(t *testing.T) {
	const balance = int64(4217)

	for a := int64(1); a <= balance; a++ {
		got, err := ParseAmountCents(strconv.FormatInt(a, 10), balance)
		require.NoError(t, err, "amount %d", a)
		require.Equal(t, a, got)
	}
}

func TestParseAmountCents_RoundTripLargeBalances(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		balance := r.Int63n(99_999_999) + 1
		a := r.Int63n(balance) + 1
		got, err := ParseAmountCents(strconv.FormatInt(a, 10)+"#", balance)
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
}

func TestParseAmountCents_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		digits  string
		balance int64
	}{
		{name: "empty", digits: "", balance: 1000},
		{name: "only terminator", digits: "#", balance: 1000},
		{name: "zero", digits: "0", balance: 1000},
		{name: "zeros", digits: "000#", balance: 1000},
		{name: "over balance", digits: "1500#", balance: 1000},
		{name: "star key", digits: "12*5", balance: 1000},
		{name: "letters", digits: "12a", balance: 1000},
		{name: "too many digits", digits: "1234567890", balance: 1 << 40},
		{name: "zero balance", digits: "1", balance: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAmountCents(tt.digits, tt.balance)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestParseCard(t *testing.T) {
	for n := 0; n <= 25; n++ {
		digits := strings.Repeat("4", n)
		got, err := ParseCard(digits)
		if n < MinCardDigits || n > MaxCardDigits {
			assert.ErrorIs(t, err, ErrInvalidCard, "length %d", n)
			assert.Empty(t, got)
			continue
		}
		assert.NoError(t, err, "length %d", n)
		assert.Equal(t, digits, got)
	}

	t.Run("terminator stripped", func(t *testing.T) {
		got, err := ParseCard("4111111111111111#")
		require.NoError(t, err)
		assert.Equal(t, "4111111111111111", got)
	})

	t.Run("non digit rejected", func(t *testing.T) {
		_, err := ParseCard("4111111*11111111")
		assert.ErrorIs(t, err, ErrInvalidCard)
	})
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		digits string
		valid  bool
	}{
		{"0327", true},
		{"1230", true},
		{"0127#", true},
		{"0027", false},
		{"1327", false},
		{"327", false},
		{"03270", false},
		{"ab27", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.digits, func(t *testing.T) {
			got, err := ParseExpiry(tt.digits)
			if !tt.valid {
				assert.ErrorIs(t, err, ErrInvalidExpiry)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, ExpiryDigits)
		})
	}
}

func TestParseCvv(t *testing.T) {
	tests := []struct {
		digits string
		valid  bool
	}{
		{"123", true},
		{"1234", true},
		{"12", false},
		{"12345", false},
		{"12a", false},
	}

	for _, tt := range tests {
		t.Run(tt.digits, func(t *testing.T) {
			_, err := ParseCvv(tt.digits)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCvv)
			}
		})
	}
}

func TestParseZip(t *testing.T) {
	got, err := ParseZip("10001")
	require.NoError(t, err)
	assert.Equal(t, "10001", got)

	for _, bad := range []string{"", "1000", "100011", "1000a"} {
		_, err := ParseZip(bad)
		assert.ErrorIs(t, err, ErrInvalidZip, "zip %q", bad)
	}
}
