package toolclient

import "sort"

// ToolInfo describes a remote tool and its per-call credit cost.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Credits     int    `json:"credits"`
}

// Registry is a read-only catalogue of known tools.
type Registry struct {
	tools map[string]ToolInfo
}

// NewRegistry builds a registry. Later entries replace earlier ones with the
// same name; non-positive credits are stored as 1.
func NewRegistry(tools ...ToolInfo) *Registry {
	r := &Registry{tools: make(map[string]ToolInfo, len(tools))}
	for _, t := range tools {
		if t.Credits <= 0 {
			t.Credits = 1
		}
		r.tools[t.Name] = t
	}
	return r
}

// DefaultRegistry lists the smart-money tools exposed by the intelligence
// endpoint.
var DefaultRegistry = NewRegistry(
	ToolInfo{Name: "smart_money_netflows", Description: "Net token flows of smart-money wallets per chain", Credits: 5},
	ToolInfo{Name: "smart_money_holdings", Description: "Aggregated smart-money token holdings", Credits: 5},
	ToolInfo{Name: "smart_money_dex_trades", Description: "Recent DEX trades by smart-money wallets", Credits: 5},
	ToolInfo{Name: "token_screener", Description: "Screen tokens by flow, holder and volume metrics", Credits: 3},
	ToolInfo{Name: "token_holders", Description: "Top holders of a token with labels", Credits: 2},
	ToolInfo{Name: "token_flows", Description: "Inflow/outflow breakdown by holder segment", Credits: 2},
	ToolInfo{Name: "token_who_bought_sold", Description: "Wallets that bought or sold a token recently", Credits: 2},
	ToolInfo{Name: "token_dex_trades", Description: "DEX trades for a token", Credits: 1},
	ToolInfo{Name: "address_balances", Description: "Current balances of an address", Credits: 1},
	ToolInfo{Name: "address_transactions", Description: "Recent transactions of an address", Credits: 1},
	ToolInfo{Name: "address_counterparties", Description: "Top counterparties of an address", Credits: 2},
)

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (ToolInfo, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Credits returns the cost of one call to name; unknown tools cost 1.
func (r *Registry) Credits(name string) int {
	if t, ok := r.tools[name]; ok {
		return t.Credits
	}
	return 1
}

// ListTools returns every tool sorted by name.
func (r *Registry) ListTools() []ToolInfo {
	out := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
