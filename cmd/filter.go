package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/pkg/pulse"
)

var (
	filterThreshold   string
	filterFile        string
	filterFailOnError bool
)

var filterCmd = &cobra.Command{
	Use:   "filter [address...]",
	Short: "Keep the agents that pulsed recently on the hosted Agent Pulse API",
	Long: `Looks up each agent on the Agent Pulse API and prints the ones whose last pulse is within --threshold, in input order.

Addresses come from the arguments and, with --file, from a file holding one address per line. A --file holding a JSON array of agent records, or one JSON record per line, is filtered record by record: each record is addressed by its address, wallet_address, walletAddress, agent_address or agentAddress key, and kept records are printed whole as JSON lines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, err := pulse.ParseThreshold(filterThreshold)
		if err != nil {
			return err
		}

		addresses := append([]string(nil), args...)
		var records []map[string]any
		if filterFile != "" {
			more, recs, err := readAgentFile(filterFile)
			if err != nil {
				return err
			}
			if recs != nil && len(args) > 0 {
				return eris.New("filter: address arguments cannot be combined with a record file")
			}
			addresses = append(addresses, more...)
			records = recs
		}
		if len(addresses) == 0 && len(records) == 0 {
			return eris.New("filter: no addresses given")
		}

		pc := cfg.Pulse
		client := pulse.NewClient(
			pulse.WithBaseURL(pc.BaseURL),
			pulse.WithHTTPClient(newPulseHTTPClient(pc.TimeoutSecs)),
			pulse.WithRateLimit(pc.RateLimit),
			pulse.WithRetry(pc.MaxRetries, time.Duration(pc.BackoffMs)*time.Millisecond),
		)

		now := time.Now()
		if flagAt > 0 {
			now = time.Unix(flagAt, 0)
		}
		opts := pulse.FilterOptions{
			Concurrency: pc.Concurrency,
			FailOnError: filterFailOnError,
			Logger:      zap.L(),
		}

		if records != nil {
			alive, err := pulse.FilterRecords(cmd.Context(), client, records, threshold, now, opts)
			if err != nil {
				return err
			}
			logFiltered(len(records), len(alive), threshold)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range alive {
				if err := enc.Encode(r); err != nil {
					return eris.Wrap(err, "filter: write record")
				}
			}
			return nil
		}

		alive, err := pulse.FilterAlive(cmd.Context(), client, addresses, threshold, now, opts)
		if err != nil {
			return err
		}
		logFiltered(len(addresses), len(alive), threshold)
		for _, a := range alive {
			printer.Fprintln(cmd.OutOrStdout(), a)
		}
		return nil
	},
}

func logFiltered(checked, alive int, threshold time.Duration) {
	zap.L().Info("filtered agents",
		zap.Int("checked", checked),
		zap.Int("alive", alive),
		zap.Duration("threshold", threshold),
	)
}

func newPulseHTTPClient(timeoutSecs int) *http.Client {
	if timeoutSecs <= 0 {
		timeoutSecs = 10
	}
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}

// readAgentFile reads --file. Content starting with [ or { is decoded as
// agent records, anything else as one address per line with blank and #
// lines skipped. Exactly one of the results is non-nil.
func readAgentFile(path string) ([]string, []map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "filter: read agent file")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		recs, err := decodeRecords(trimmed)
		return nil, recs, err
	}
	return readAddresses(bytes.NewReader(data))
}

// decodeRecords accepts a JSON array of objects or a stream of objects,
// one per line. Numbers keep their literal form.
func decodeRecords(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	recs := []map[string]any{}
	if data[0] == '[' {
		if err := dec.Decode(&recs); err != nil {
			return nil, eris.Wrap(err, "filter: decode record array")
		}
		return recs, nil
	}
	for n := 1; ; n++ {
		var r map[string]any
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "filter: decode record %d", n)
		}
		recs = append(recs, r)
	}
}

func readAddresses(r io.Reader) ([]string, []map[string]any, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil, eris.Wrap(sc.Err(), "filter: read address file")
}

func init() {
	filterCmd.Flags().StringVar(&filterThreshold, "threshold", "24h", "maximum age of the last pulse (30s, 15m, 24h, 2d or hours)")
	filterCmd.Flags().StringVar(&filterFile, "file", "", "file with one address per line, a JSON array of agent records, or JSON lines")
	filterCmd.Flags().BoolVar(&filterFailOnError, "fail-on-error", false, "fail instead of dropping addresses whose lookup errors")
	rootCmd.AddCommand(filterCmd)
}
