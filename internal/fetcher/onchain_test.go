package fetcher

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestOnchainMissingConfig(t *testing.T) {
	oc := NewOnchain(OnchainOptions{}, zerolog.Nop())
	if _, _, err := oc.FetchPoolPrice(context.Background(), "0xpool", 18, 6); err == nil {
		t.Fatal("missing RPC URL should error")
	}

	oc = NewOnchain(OnchainOptions{RPCURL: "http://localhost"}, zerolog.Nop())
	if _, _, err := oc.FetchPoolPrice(context.Background(), "", 18, 6); err == nil {
		t.Fatal("missing pool address should error")
	}
}
