package pulse

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidThreshold is returned for thresholds that do not parse or are
// not positive.
var ErrInvalidThreshold = eris.New("pulse: invalid threshold")

var thresholdRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([smhd])$`)

// ParseThreshold reads "30s", "15m", "24h", "2d", or a bare number of hours.
func ParseThreshold(s string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(s))

	unit := time.Hour
	num := v
	if m := thresholdRe.FindStringSubmatch(v); m != nil {
		num = m[1]
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "d":
			unit = 24 * time.Hour
		}
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Wrapf(ErrInvalidThreshold, "%q must look like 24h, 15m, 2d or a number of hours", s)
	}
	d := time.Duration(f * float64(unit))
	if d <= 0 {
		return 0, eris.Wrapf(ErrInvalidThreshold, "%q must be > 0", s)
	}
	return d, nil
}

// IsRecent reports whether s pulsed within threshold of now. Without a
// timestamp the API's alive flag decides.
func IsRecent(s *Status, now time.Time, threshold time.Duration) bool {
	if s.LastPulseTimestamp == nil {
		return s.Alive != nil && *s.Alive
	}
	staleness := now.Unix() - *s.LastPulseTimestamp
	if staleness < 0 {
		staleness = 0
	}
	return staleness <= int64(threshold/time.Second)
}

// FilterOptions tunes Filter.
type FilterOptions struct {
	// Concurrency bounds in-flight lookups. Default: 8.
	Concurrency int
	// FailOnError returns the first lookup error instead of dropping the
	// agent that caused it.
	FailOnError bool
	// Logger records dropped agents. Default: zap.L().
	Logger *zap.Logger
}

// Filter returns the agents whose address pulsed within threshold of now,
// in input order.
func Filter[T any](ctx context.Context, c Client, agents []T, addressOf func(T) string, threshold time.Duration, now time.Time, opts FilterOptions) ([]T, error) {
	return FilterFunc(ctx, c, agents, func(a T) (string, error) { return addressOf(a), nil }, threshold, now, opts)
}

// FilterFunc is Filter with a fallible address extractor. An extraction
// error is treated like a failed lookup.
func FilterFunc[T any](ctx context.Context, c Client, agents []T, addressOf func(T) (string, error), threshold time.Duration, now time.Time, opts FilterOptions) ([]T, error) {
	if threshold <= 0 {
		return nil, eris.Wrap(ErrInvalidThreshold, "pulse: threshold must be > 0")
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 8
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}

	keep := make([]bool, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, agent := range agents {
		g.Go(func() error {
			address, err := addressOf(agent)
			var st *Status
			if err == nil {
				st, err = c.Status(gctx, address)
			}
			if err != nil {
				if opts.FailOnError {
					return err
				}
				log.Warn("pulse: dropping agent after failed lookup",
					zap.Int("index", i),
					zap.String("address", address),
					zap.Error(err),
				)
				return nil
			}
			keep[i] = IsRecent(st, now, threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(agents))
	for i, agent := range agents {
		if keep[i] {
			out = append(out, agent)
		}
	}
	return out, nil
}

// FilterAlive is Filter over plain addresses.
func FilterAlive(ctx context.Context, c Client, addresses []string, threshold time.Duration, now time.Time, opts FilterOptions) ([]string, error) {
	return Filter(ctx, c, addresses, func(a string) string { return a }, threshold, now, opts)
}

// FilterRecords is Filter over decoded agent records, addressed by
// AgentAddress. Records are returned whole.
func FilterRecords(ctx context.Context, c Client, records []map[string]any, threshold time.Duration, now time.Time, opts FilterOptions) ([]map[string]any, error) {
	return FilterFunc(ctx, c, records, AgentAddress, threshold, now, opts)
}
