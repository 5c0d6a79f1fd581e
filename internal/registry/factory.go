package registry

import (
	"fmt"
	"strings"

	"github.com/alevoro-com/alevoro/internal/config"
)

func NewClientFromConfig(cfg config.Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.RegistryMode))
	if mode == "" || mode == "stub" {
		return NewStubClient(), nil
	}
	if mode != "real" {
		return nil, fmt.Errorf("invalid REGISTRY_MODE: %s", cfg.RegistryMode)
	}
	return NewRPCClient(cfg.RegistryHTTPRPC, cfg.MarketAccountID)
}
