// Package mcpserver exposes the signal log to agents as MCP tools.
package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"smartflow/internal/domain"
	"smartflow/internal/service"
	"smartflow/internal/signallog"
)

const serverName = "smartflow"

// Server registers signal log tools on an MCP server.
type Server struct {
	intel   *service.IntelService
	logger  zerolog.Logger
	timeout time.Duration
	mcp     *mcp.Server
}

// New builds the MCP server. timeout bounds each tool invocation.
func New(intel *service.IntelService, logger zerolog.Logger, version string, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Server{
		intel:   intel,
		logger:  logger,
		timeout: timeout,
		mcp:     mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil),
	}
	s.register()
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

func (s *Server) register() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "signals_find",
		Description: "Query logged smart-money signals by chain, mode, score range and acted-on state.",
	}, s.findSignals)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "signals_stats",
		Description: "Summary statistics of the signal log: acted-on ratio, win rate, score and chain/mode breakdown.",
	}, s.signalStats)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "signal_mark_acted",
		Description: "Record that the operator acted on a signal (buy, sell, skip or watch).",
	}, s.markActed)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "signal_record_outcome",
		Description: "Record entry/exit prices or pnl for a signal. Set at_market to entry or exit to quote the token now.",
	}, s.recordOutcome)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "token_history",
		Description: "Every signal logged for a token address, optionally restricted to one chain.",
	}, s.tokenHistory)
}

type FindInput struct {
	Chains   []string `json:"chains,omitempty" jsonschema:"chains to include, case-insensitive"`
	Modes    []string `json:"modes,omitempty" jsonschema:"signal types to include, e.g. accumulation"`
	MinScore *float64 `json:"min_score,omitempty" jsonschema:"minimum score, inclusive"`
	MaxScore *float64 `json:"max_score,omitempty" jsonschema:"maximum score, inclusive"`
	Acted    *bool    `json:"acted,omitempty" jsonschema:"only acted-on (true) or not-yet-acted (false) signals"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of records"`
}

type SignalsOutput struct {
	Count   int          `json:"count"`
	Signals []SignalView `json:"signals"`
}

// SignalView is the flat wire form of a LoggedSignal.
type SignalView struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Token      string   `json:"token"`
	Symbol     string   `json:"symbol,omitempty"`
	Chain      string   `json:"chain"`
	Score      float64  `json:"score"`
	Reason     string   `json:"reason,omitempty"`
	LoggedAt   string   `json:"logged_at"`
	Acted      bool     `json:"acted"`
	Action     string   `json:"action,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
	PnL        *float64 `json:"pnl,omitempty"`
	PnLPercent *float64 `json:"pnl_percent,omitempty"`
}

type StatsInput struct{}

type StatsOutput struct {
	TotalSignals    int            `json:"total_signals"`
	ActedOn         int            `json:"acted_on"`
	Skipped         int            `json:"skipped"`
	WithOutcome     int            `json:"with_outcome"`
	ProfitableCount int            `json:"profitable_count"`
	WinRate         float64        `json:"win_rate"`
	AvgScore        float64        `json:"avg_score"`
	ByChain         map[string]int `json:"by_chain"`
	ByMode          map[string]int `json:"by_mode"`
}

type MarkActedInput struct {
	ID     string `json:"id" jsonschema:"signal id"`
	Action string `json:"action" jsonschema:"one of buy, sell, skip, watch"`
	Notes  string `json:"notes,omitempty" jsonschema:"free-form notes"`
}

type RecordOutcomeInput struct {
	ID         string   `json:"id" jsonschema:"signal id"`
	EntryPrice *float64 `json:"entry_price,omitempty" jsonschema:"entry price in USD"`
	ExitPrice  *float64 `json:"exit_price,omitempty" jsonschema:"exit price in USD"`
	PnL        *float64 `json:"pnl,omitempty" jsonschema:"realised pnl per unit; overrides the price difference"`
	Notes      *string  `json:"notes,omitempty" jsonschema:"free-form notes"`
	AtMarket   string   `json:"at_market,omitempty" jsonschema:"entry or exit: quote the token now for that leg"`
}

type TokenHistoryInput struct {
	Token string `json:"token" jsonschema:"token address"`
	Chain string `json:"chain,omitempty" jsonschema:"restrict to one chain"`
}

func (s *Server) findSignals(ctx context.Context, req *mcp.CallToolRequest, in FindInput) (*mcp.CallToolResult, SignalsOutput, error) {
	records := s.intel.FindSignals(signallog.Filter{
		Chains:   in.Chains,
		Modes:    in.Modes,
		MinScore: in.MinScore,
		MaxScore: in.MaxScore,
		Acted:    in.Acted,
		Limit:    in.Limit,
	})
	return nil, toSignalsOutput(records), nil
}

func (s *Server) signalStats(ctx context.Context, req *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	st := s.intel.SignalStats()
	return nil, StatsOutput{
		TotalSignals:    st.TotalSignals,
		ActedOn:         st.ActedOn,
		Skipped:         st.Skipped,
		WithOutcome:     st.WithOutcome,
		ProfitableCount: st.ProfitableCount,
		WinRate:         st.WinRate,
		AvgScore:        st.AvgScore,
		ByChain:         st.ByChain,
		ByMode:          st.ByMode,
	}, nil
}

func (s *Server) markActed(ctx context.Context, req *mcp.CallToolRequest, in MarkActedInput) (*mcp.CallToolResult, SignalView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	action, err := domain.ParseAction(in.Action)
	if err != nil {
		return nil, SignalView{}, err
	}
	rec, err := s.intel.MarkActed(ctx, in.ID, action, in.Notes)
	if err != nil {
		return nil, SignalView{}, err
	}
	s.logger.Info().Str("id", in.ID).Str("action", string(action)).Msg("mcp: signal acted on")
	return nil, toView(rec), nil
}

func (s *Server) recordOutcome(ctx context.Context, req *mcp.CallToolRequest, in RecordOutcomeInput) (*mcp.CallToolResult, SignalView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		rec domain.LoggedSignal
		err error
	)
	if in.AtMarket != "" {
		rec, err = s.intel.RecordOutcomeAtMarket(ctx, in.ID, in.AtMarket)
	} else {
		rec, err = s.intel.RecordOutcome(ctx, in.ID, signallog.OutcomeUpdate{
			EntryPrice: in.EntryPrice,
			ExitPrice:  in.ExitPrice,
			PnL:        in.PnL,
			Notes:      in.Notes,
		})
	}
	if err != nil {
		return nil, SignalView{}, err
	}
	return nil, toView(rec), nil
}

func (s *Server) tokenHistory(ctx context.Context, req *mcp.CallToolRequest, in TokenHistoryInput) (*mcp.CallToolResult, SignalsOutput, error) {
	return nil, toSignalsOutput(s.intel.TokenHistory(in.Token, in.Chain)), nil
}

func toSignalsOutput(records []domain.LoggedSignal) SignalsOutput {
	out := SignalsOutput{Count: len(records), Signals: make([]SignalView, 0, len(records))}
	for _, r := range records {
		out.Signals = append(out.Signals, toView(r))
	}
	return out
}

func toView(r domain.LoggedSignal) SignalView {
	v := SignalView{
		ID:       r.ID,
		Type:     string(r.Type),
		Token:    r.Token,
		Symbol:   r.Symbol,
		Chain:    r.Chain,
		Score:    r.Score,
		Reason:   r.Reason,
		LoggedAt: r.LoggedAt.UTC().Format(time.RFC3339),
		Acted:    r.Acted,
	}
	if o := r.Outcome; o != nil {
		v.Action = string(o.Action)
		v.Notes = o.Notes
		v.EntryPrice = o.EntryPrice
		v.ExitPrice = o.ExitPrice
		v.PnL = o.PnL
		v.PnLPercent = o.PnLPercent
	}
	return v
}
