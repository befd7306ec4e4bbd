package stream

import (
	"math/big"
	"testing"
	"time"
)

func TestDecodePriceUpdate(t *testing.T) {
	data := []byte(`{"token":"WETH","price":"200000000000","sequence":7,"timestamp_ms":1735689600000}`)

	got, err := decodePriceUpdate(data)
	if err != nil {
		t.Fatalf("decodePriceUpdate: %v", err)
	}
	if got.token != "WETH" {
		t.Errorf("token %q, want WETH", got.token)
	}
	if got.price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Errorf("price %s, want 200000000000", got.price)
	}
	if got.sequence != 7 {
		t.Errorf("sequence %d, want 7", got.sequence)
	}
	if want := time.UnixMilli(1735689600000).UTC(); !got.timestamp.Equal(want) {
		t.Errorf("timestamp %v, want %v", got.timestamp, want)
	}
}

func TestDecodePriceUpdate_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"token":`,
		"missing token":  `{"price":"1","sequence":1}`,
		"empty price":    `{"token":"WETH","price":"","sequence":1}`,
		"negative price": `{"token":"WETH","price":"-1","sequence":1}`,
		"float price":    `{"token":"WETH","price":"1.5","sequence":1}`,
	}
	for name, data := range cases {
		if _, err := decodePriceUpdate([]byte(data)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestDecodePriceUpdate_ZeroPriceAllowed(t *testing.T) {
	// A zero quote is structurally valid; conversions reject it downstream.
	got, err := decodePriceUpdate([]byte(`{"token":"WETH","price":"0","sequence":1}`))
	if err != nil {
		t.Fatalf("decodePriceUpdate: %v", err)
	}
	if got.price.Sign() != 0 {
		t.Errorf("price %s, want 0", got.price)
	}
}
