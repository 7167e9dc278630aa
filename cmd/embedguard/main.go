// Package main is the embedguard command line: it embeds text through the guarded
// pipeline and manages the embedding cache.
package main

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"embedguard/config"
	"embedguard/internal/app"
	"embedguard/internal/core"
	"embedguard/internal/embedding"
	"embedguard/internal/logging"
)

// maxLineBytes bounds one stdin line in stream mode.
const maxLineBytes = 1 << 20

func main() {
	if err := newCLI(os.Stdin, os.Stdout, os.Stderr, nil).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// output is one JSON line written per input text.
type output struct {
	Text      string           `json:"text"`
	RequestID string           `json:"request_id"`
	Status    embedding.Status `json:"status"`
	CacheHit  bool             `json:"cache_hit"`
	Attempts  int              `json:"attempts"`
	Vector    []float32        `json:"vector,omitempty"`
}

// runtime carries what the Before hook prepared for the commands.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider core.Provider
}

// newCLI builds the command tree. provider, when set, replaces the configured provider.
func newCLI(stdin io.Reader, stdout, stderr io.Writer, provider core.Provider) *cli.App {
	rt := &runtime{provider: provider}

	return &cli.App{
		Name:      "embedguard",
		Usage:     "Resilient text embeddings with caching and circuit breaking",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file (default: ./config.yaml if present)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override logging format (text, json)",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.Logging.Level = lvl
			}
			if f := c.String("log-format"); f != "" {
				cfg.Logging.Format = f
			}
			logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "embed",
				Usage:     "Embed each argument and print one JSON line per text",
				ArgsUsage: "TEXT...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-cache", Usage: "Skip cache reads and writes"},
					&cli.BoolFlag{Name: "no-preprocess", Usage: "Send text to the provider unchanged"},
					&cli.StringFlag{Name: "model", Usage: "Override the configured model"},
					&cli.BoolFlag{Name: "memo", Usage: "Route repeated texts through the in-process LRU"},
				},
				Action: rt.embedCommand,
			},
			{
				Name:  "stream",
				Usage: "Embed stdin line by line, writing one JSON line per input",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "model", Usage: "Override the configured model"},
					&cli.StringFlag{Name: "metrics", Usage: "Serve Prometheus metrics on this address (default: metrics.address when metrics.enabled)"},
				},
				Action: rt.streamCommand,
			},
			{
				Name:  "cache",
				Usage: "Manage the embedding cache",
				Subcommands: []*cli.Command{
					{
						Name:      "clear",
						Usage:     "Remove cached entries matching PATTERN (default: everything under the key prefix)",
						ArgsUsage: "[PATTERN]",
						Action:    rt.cacheClearCommand,
					},
				},
			},
		},
	}
}

func (rt *runtime) start(ctx context.Context) (*app.App, error) {
	return app.New(ctx, app.Options{Config: rt.cfg, Logger: rt.logger, Provider: rt.provider})
}

func (rt *runtime) stop(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		rt.logger.Error("shutdown failed", "error", err)
	}
}

func (rt *runtime) embedCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("embed requires at least one TEXT argument", 2)
	}

	a, err := rt.start(c.Context)
	if err != nil {
		return err
	}
	defer rt.stop(a)

	opts := a.EmbedOptions()
	if c.Bool("no-cache") {
		opts.UseCache = false
	}
	if c.Bool("no-preprocess") {
		opts.Preprocess = false
	}
	opts.Model = c.String("model")

	embed := func(ctx context.Context, text string) embedding.Result {
		return a.Pipeline().Embed(ctx, text, opts)
	}
	if c.Bool("memo") {
		embed, err = rt.memoized(a, opts)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(c.App.Writer)
	unavailable := 0
	for _, text := range c.Args().Slice() {
		ctx, id := core.EnsureRequestID(c.Context)
		res := embed(ctx, text)
		if !res.Available() {
			unavailable++
		}
		if err := enc.Encode(toOutput(text, id, res)); err != nil {
			return err
		}
	}
	if unavailable > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d embeddings unavailable", unavailable, c.NArg()), 3)
	}
	return nil
}

func (rt *runtime) streamCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := rt.start(ctx)
	if err != nil {
		return err
	}
	defer rt.stop(a)

	addr := c.String("metrics")
	if addr == "" && rt.cfg.Metrics.Enabled {
		addr = rt.cfg.Metrics.Address
	}
	if addr != "" {
		a.StartMetrics(addr)
	}

	opts := a.EmbedOptions()
	opts.Model = c.String("model")
	embed := func(ctx context.Context, text string) embedding.Result {
		return a.Pipeline().Embed(ctx, text, opts)
	}
	if memo := a.Memoized(); memo != nil && opts == a.EmbedOptions() {
		embed = memo.Embed
	}

	scanner := bufio.NewScanner(c.App.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(c.App.Writer)

	var total, unavailable int
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		lineCtx, id := core.EnsureRequestID(ctx)
		res := embed(lineCtx, text)
		total++
		if !res.Available() {
			unavailable++
		}
		if err := enc.Encode(toOutput(text, id, res)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	rt.logger.Info("stream finished", "texts", total, "unavailable", unavailable)
	return nil
}

func (rt *runtime) cacheClearCommand(c *cli.Context) error {
	a, err := rt.start(c.Context)
	if err != nil {
		return err
	}
	defer rt.stop(a)

	pattern := c.Args().First()
	if !a.Cache().Clear(c.Context, pattern) {
		return cli.Exit("cache clear failed on every backend", 1)
	}
	fmt.Fprintf(c.App.Writer, "cleared %s\n", a.Cache().FormatKey(cmp.Or(pattern, "*")))
	return nil
}

// memoized returns the application's memo when opts match the deployment options it was
// built with, and a private memo of embedding.memo_size entries otherwise.
func (rt *runtime) memoized(a *app.App, opts embedding.Options) (func(context.Context, string) embedding.Result, error) {
	if memo := a.Memoized(); memo != nil && opts == a.EmbedOptions() {
		return memo.Embed, nil
	}
	memo, err := embedding.NewMemoized(a.Pipeline(), max(rt.cfg.Embedding.MemoSize, 1), opts)
	if err != nil {
		return nil, err
	}
	return memo.Embed, nil
}

func toOutput(text, requestID string, res embedding.Result) output {
	return output{
		Text:      text,
		RequestID: requestID,
		Status:    res.Status,
		CacheHit:  res.CacheHit,
		Attempts:  res.Attempts,
		Vector:    res.Vector,
	}
}
