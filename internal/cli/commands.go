package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"smartflow/internal/domain"
	"smartflow/internal/ratelimit"
	"smartflow/internal/signallog"
)

func newStatsCmd(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise the signal log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			stats := a.Intel.SignalStats()
			if asJSON {
				return writeJSON(cmd, stats)
			}
			writeln(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newFindCmd(o *options) *cobra.Command {
	var (
		chains, modes      []string
		minScore, maxScore float64
		acted              string
		limit              int
		asJSON             bool
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Query logged signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := signallog.Filter{Chains: chains, Modes: modes, Limit: limit}
			if cmd.Flags().Changed("min-score") {
				f.MinScore = &minScore
			}
			if cmd.Flags().Changed("max-score") {
				f.MaxScore = &maxScore
			}
			if acted != "" {
				v, err := strconv.ParseBool(acted)
				if err != nil {
					return fmt.Errorf("--acted must be true or false, got %q", acted)
				}
				f.Acted = &v
			}
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}

			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			records := a.Intel.FindSignals(f)
			if asJSON {
				return writeJSON(cmd, records)
			}
			if len(records) == 0 {
				writeln(cmd.OutOrStdout(), "No matching signals.")
				return nil
			}
			writeln(cmd.OutOrStdout(), renderSignals(records))
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVar(&chains, "chain", nil, "Chains to include (repeatable or comma-separated)")
	fl.StringSliceVar(&modes, "mode", nil, "Signal types to include")
	fl.Float64Var(&minScore, "min-score", 0, "Minimum score")
	fl.Float64Var(&maxScore, "max-score", 0, "Maximum score")
	fl.StringVar(&acted, "acted", "", "Only acted (true) or unacted (false) signals")
	fl.IntVar(&limit, "limit", 0, "Keep only the first N matches")
	fl.BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newExportCmd(o *options) *cobra.Command {
	var (
		out    string
		chains []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export signals as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			data, err := a.Intel.ExportSignals(signallog.Filter{Chains: chains})
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().StringSliceVar(&chains, "chain", nil, "Chains to include")
	return cmd
}

func newToolsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List remote tools and their credit cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			tools := a.Intel.ListTools()
			if len(tools) == 0 {
				writeln(cmd.OutOrStdout(), "Tools disabled: TOOL_ENDPOINT is not set.")
				return nil
			}
			writeln(cmd.OutOrStdout(), renderTools(tools))
			return nil
		},
	}
}

func newCallCmd(o *options) *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a remote tool through the rate limiter and cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{}
			if strings.TrimSpace(rawArgs) != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}
			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			res, err := a.Intel.CallTool(cmd.Context(), args[0], toolArgs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(res, '\n'))
			return err
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", `Tool arguments as a JSON object, e.g. '{"chain":"base"}'`)
	return cmd
}

func newActCmd(o *options) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "act <id> <buy|sell|skip|watch>",
		Short: "Record what you did about a signal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := domain.ParseAction(args[1])
			if err != nil {
				return err
			}
			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			rec, err := a.Intel.MarkActed(cmd.Context(), args[0], action, notes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked %s\n", rec.ID, action)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	return cmd
}

func newOutcomeCmd(o *options) *cobra.Command {
	var (
		entry, exit, pnl float64
		notes, atMarket  string
	)
	cmd := &cobra.Command{
		Use:   "outcome <id>",
		Short: "Record entry/exit prices or realised pnl for a signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			var upd signallog.OutcomeUpdate
			if fl.Changed("entry") {
				upd.EntryPrice = &entry
			}
			if fl.Changed("exit") {
				upd.ExitPrice = &exit
			}
			if fl.Changed("pnl") {
				upd.PnL = &pnl
			}
			if fl.Changed("notes") {
				upd.Notes = &notes
			}
			hasUpdate := upd.EntryPrice != nil || upd.ExitPrice != nil || upd.PnL != nil || upd.Notes != nil
			if atMarket == "" && !hasUpdate {
				return errors.New("nothing to record: pass --entry, --exit, --pnl, --notes or --at-market")
			}

			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			id := args[0]
			var rec domain.LoggedSignal
			if atMarket != "" {
				if rec, err = a.Intel.RecordOutcomeAtMarket(cmd.Context(), id, atMarket); err != nil {
					return err
				}
			}
			if hasUpdate {
				if rec, err = a.Intel.RecordOutcome(cmd.Context(), id, upd); err != nil {
					return err
				}
			}
			writeln(cmd.OutOrStdout(), renderSignals([]domain.LoggedSignal{rec}))
			return nil
		},
	}
	fl := cmd.Flags()
	fl.Float64Var(&entry, "entry", 0, "Entry price")
	fl.Float64Var(&exit, "exit", 0, "Exit price")
	fl.Float64Var(&pnl, "pnl", 0, "Realised pnl; derived from prices when omitted")
	fl.StringVar(&notes, "notes", "", "Notes")
	fl.StringVar(&atMarket, "at-market", "", "Quote the token now and record it as the entry or exit leg")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "Show the rate limit presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(ratelimit.PresetNames()))
			for _, name := range ratelimit.PresetNames() {
				p, _ := ratelimit.Preset(name)
				rows = append(rows, []string{
					name,
					strconv.FormatFloat(p.MaxTokens, 'f', -1, 64),
					strconv.FormatFloat(p.RefillRate, 'f', -1, 64) + "/s",
					p.MinDelay.String(),
				})
			}
			writeln(cmd.OutOrStdout(), renderTable([]string{"PRESET", "MAX TOKENS", "REFILL", "MIN DELAY"}, rows))
			return nil
		},
	}
}

func newGovernanceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "governance",
		Short: "Print rate limiter, cache and signal log stats as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.getApp(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd, a.Intel.GovernanceStats())
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
