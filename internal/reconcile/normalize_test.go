package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Parsed
	}{
		{"plain", "42", Parsed{Value: 42, OK: true}},
		{"thousands", "1,234", Parsed{Value: 1234, OK: true}},
		{"padded thousands", "   12,345,678  ", Parsed{Value: 12345678, OK: true}},
		{"decimal", "3.5", Parsed{Value: 3.5, OK: true}},
		{"zero", "0", Parsed{Value: 0, OK: true}},
		{"withheld", "(D)", Parsed{Withheld: true}},
		{"withheld padded", " (D) ", Parsed{Withheld: true}},
		{"withheld right aligned", "                 (D)", Parsed{Withheld: true}},
		{"empty", "", Parsed{Withheld: true}},
		{"blank", "   ", Parsed{Withheld: true}},
		{"not available", "N/A", Parsed{}},
		{"less than half unit", "(Z)", Parsed{}},
		{"garbage", "12abc", Parsed{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseValue(tt.raw))
		})
	}
}

func TestParseValue_WithheldDistinctFromUnparseable(t *testing.T) {
	withheld := ParseValue(" (D) ")
	bad := ParseValue("N/A")

	assert.False(t, withheld.OK)
	assert.False(t, bad.OK)
	assert.True(t, withheld.Withheld)
	assert.False(t, bad.Withheld)
}
