package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/ingest"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/store"
)

const maxReplayLine = 16 << 20

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Feed recorded channel messages through the store and print the final state",
		Long: `replay reads one message per line, either a channel envelope
({"event":"new_batch","payload":{"frauds":[...]}}) or a bare {"frauds":[...]}
payload, ingests every transaction in order and writes the resulting state
as JSON. Reads stdin when no file (or "-") is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReplay,
	}
	cmd.Flags().Bool("alerts-only", false, "print only the alert window")
	_ = viper.BindPFlag("replay.alerts_only", cmd.Flags().Lookup("alerts-only"))
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open replay file: %w", err)
		}
		defer f.Close()
		in = f
	}

	_, cfg, err := loadConfig(slog.Default())
	if err != nil {
		return err
	}
	st, err := store.New(storeCapacities(cfg))
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer st.Close()

	res, err := replay(in, st, slog.Default())
	if err != nil {
		return err
	}
	slog.Info("replay complete",
		"lines", res.lines,
		"batches", res.batches,
		"transactions", res.transactions,
		"skipped_lines", res.skipped,
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if viper.GetBool("replay.alerts_only") {
		return enc.Encode(st.State().Alerts)
	}
	return enc.Encode(st.State())
}

type replayResult struct {
	lines, batches, transactions, skipped int
}

// replay delivers every decodable line of r to sink. Malformed lines are
// logged and skipped.
func replay(r io.Reader, sink ingest.Sink, logger *slog.Logger) (replayResult, error) {
	var res replayResult
	dec := ingest.NewDecoder("replay", logger)
	dispatcher := ingest.NewDispatcher(sink, logger)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxReplayLine)
	for sc.Scan() {
		line := sc.Bytes()
		res.lines++
		if len(line) == 0 {
			continue
		}
		b, ok, err := dec.Message(line)
		if err != nil {
			res.skipped++
			logger.Warn("replay: skipping line", "line", res.lines, "err", err)
			continue
		}
		if !ok {
			continue
		}
		res.batches++
		res.transactions += dispatcher.Deliver(b)
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read replay input: %w", err)
	}
	return res, nil
}
