package config

import (
	"fmt"

	"github.com/cumulusmesh/fabric/channel"
)

// ByteCostFunc resolves the RateLimit.CostOut/CostIn name "byte" to
// channel.ByteCost, and "unit" to channel.UnitCost[[]byte] — the two
// built-in cost functions a configuration may name. A node wiring a []byte-oriented rate-limited group (one
// wrapping a raw byte transport, before the serialized channel layer)
// uses this resolver directly; a node rate-limiting typed messages
// supplies its own CostFunc instead.
func ByteCostFunc(name string) (channel.CostFunc[[]byte], error) {
	switch name {
	case "byte", "":
		return channel.ByteCost, nil
	case "unit":
		return channel.UnitCost[[]byte], nil
	default:
		return nil, fmt.Errorf("config: unknown cost function %q", name)
	}
}
