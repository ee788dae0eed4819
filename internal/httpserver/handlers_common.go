package httpserver

import "github.com/x402fac/facilitator/pkg/facilitator"

// networkView resolves network (already normalized by the scheme router)
// into the dual-spelling view every response header/body carries. A miss
// can only happen if the registry was reconfigured between Route and here,
// so it degrades to the bare name rather than failing the response.
func (h *handlers) networkView(network string) facilitator.NetworkView {
	chain, err := h.registry.Resolve(network)
	if err != nil {
		return facilitator.NetworkView{Name: network}
	}
	return facilitator.NetworkView{Name: chain.Network, ChainID: chain.ChainID.Int64(), CAIP2: chain.CAIP2}
}
