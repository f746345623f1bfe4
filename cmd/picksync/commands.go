package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/picksync"
	"github.com/unkn0wn-root/picksync/metrics"
)

type openFunc func(ctx context.Context, cfg config) (*app, error)

type cli struct {
	cfg  *config
	open openFunc
}

func newRootCmd(cfg *config, open openFunc) *cobra.Command {
	c := &cli{cfg: cfg, open: open}

	root := &cobra.Command{
		Use:          "picksync",
		Short:        "Cached picklist reads and scan submission",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.cfg.validate()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection string")
	f.StringVar(&cfg.Database, "database", cfg.Database, "MongoDB database")
	f.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "snapshot namespace and breaker name")
	f.StringVar(&cfg.Persist, "persist", cfg.Persist, "snapshot provider: none|memory|ristretto|bigcache|redis")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for --persist=redis")
	f.StringVar(&cfg.Codec, "codec", cfg.Codec, "snapshot codec: json|cbor|msgpack")
	f.StringVar(&cfg.Logger, "logger", cfg.Logger, "logger: zap|logrus|slog")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	f.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "records per write call")
	f.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "cache entry TTL; negative never expires")
	f.BoolVar(&cfg.Breaker, "breaker", cfg.Breaker, "wrap the source in circuit breakers")

	root.AddCommand(
		c.picklistsCmd(),
		c.itemsCmd(),
		c.statusCmd(),
		c.submitCmd(),
		c.labelCmd(),
		c.watchCmd(),
	)
	return root
}

// run opens the app for one command and always closes it.
func (c *cli) run(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := c.open(ctx, *c.cfg)
		if err != nil {
			return err
		}
		defer func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := a.Close(cctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", err)
			}
		}()
		return fn(ctx, a, cmd, args)
	}
}

func (c *cli) picklistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "picklists",
		Short: "List picklist numbers",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			for _, no := range a.cache.GetPicklistNumbers(ctx) {
				fmt.Fprintln(cmd.OutOrStdout(), no)
			}
			return nil
		}),
	}
}

func (c *cli) itemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items <picklist>...",
		Short: "Print the items of picklists as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), a.cache.GetItemsBatch(ctx, args))
		}),
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [picklist]...",
		Short: "Show picklist status; all picklists when none are given",
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = a.cache.GetPicklistNumbers(ctx)
			}
			return writeStatuses(cmd.OutOrStdout(), a.cache.GetAllStatuses(ctx, args))
		}),
	}
}

func (c *cli) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file.json>",
		Short: "Submit scan records from a JSON array file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			recs, err := readRecords(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			res := a.cache.SubmitScans(ctx, recs)
			fmt.Fprintf(cmd.OutOrStdout(),
				"submitted=%d written=%d skipped=%d duplicates=%d invalid=%d failed=%d chunks=%d/%d\n",
				res.Submitted, res.Written, res.Skipped, res.Duplicates, res.Invalid, res.Failed,
				res.Chunks-res.FailedChunks, res.Chunks)
			if !res.OK() {
				if res.Err != nil {
					return fmt.Errorf("submit failed: %w", res.Err)
				}
				return errors.New("submit failed: nothing written")
			}
			return nil
		}),
	}
}

func (c *cli) labelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "label <picklist> <label>",
		Short: "Set the status label of a picklist (open|in_progress|complete|overscan)",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if !validLabel(args[1]) {
				return fmt.Errorf("unknown label %q", args[1])
			}
			if !a.cache.UpdateStatus(ctx, args[0], args[1]) {
				return fmt.Errorf("label %s: rejected", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s => %s\n", args[0], args[1])
			return nil
		}),
	}
}

func (c *cli) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <picklist>...",
		Short: "Poll picklist status and serve Prometheus metrics until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: c.cfg.MetricsAddr, Handler: metricsHandler(a), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error("metrics server", picksync.Fields{"addr": c.cfg.MetricsAddr, "err": err})
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			a.log.Info("watching", picksync.Fields{"picklists": args, "metrics": c.cfg.MetricsAddr})

			t := time.NewTicker(c.cfg.WatchInterval)
			defer t.Stop()
			for {
				for no, st := range a.cache.GetAllStatuses(ctx, args) {
					a.log.Info("status", picksync.Fields{
						"picklist":  no,
						"label":     st.Label(),
						"scanned":   st.Scanned,
						"remaining": st.Remaining,
						"overscan":  st.Overscan,
					})
				}
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		}),
	}
	cmd.Flags().StringVar(&c.cfg.MetricsAddr, "metrics-addr", c.cfg.MetricsAddr, "listen address for /metrics")
	cmd.Flags().DurationVar(&c.cfg.WatchInterval, "interval", c.cfg.WatchInterval, "poll interval")
	return cmd
}

func metricsHandler(a *app) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var opts []metrics.Option
	if a.breaker != nil {
		opts = append(opts, metrics.WithBreaker(a.breaker))
	}
	reg.MustRegister(metrics.NewCollector("", a.cache, opts...))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func validLabel(l string) bool {
	switch l {
	case picksync.LabelOpen, picksync.LabelInProgress, picksync.LabelComplete, picksync.LabelOverscan:
		return true
	}
	return false
}

func readRecords(stdin io.Reader, path string) ([]picksync.ScanRecord, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var recs []picksync.ScanRecord
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return recs, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStatuses(w io.Writer, statuses map[string]picksync.PicklistStatus) error {
	nos := make([]string, 0, len(statuses))
	for no := range statuses {
		nos = append(nos, no)
	}
	sort.Strings(nos)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PICKLIST\tLABEL\tTOTAL\tSCANNED\tREMAINING\tOVERSCAN\tLAST SCAN")
	for _, no := range nos {
		st := statuses[no]
		last := "-"
		if !st.LastScanAt.IsZero() {
			last = st.LastScanAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			no, st.Label(), st.Total, st.Scanned, st.Remaining, st.Overscan, last)
	}
	return tw.Flush()
}
