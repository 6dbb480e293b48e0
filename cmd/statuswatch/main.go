// Package main follows project statuses from a terminal.
//
// It loads the snapshot list over HTTP, keeps it current from the realtime
// socket and prints one line per change. With --set it applies status changes
// optimistically before watching. When the socket gives up reconnecting the
// watcher falls back to polling.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/apiclient"
	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/realtime/cache"
	"fabtrack.io/tracker/internal/realtime/client"
)

type options struct {
	server   string
	token    string
	watch    []string
	set      []string
	poll     time.Duration
	once     bool
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "statuswatch: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	opts := options{token: os.Getenv("TRACKER_TOKEN")}
	fs := pflag.NewFlagSet("statuswatch", pflag.ContinueOnError)
	fs.StringVarP(&opts.server, "server", "s", "http://localhost:8080", "tracker base URL")
	fs.StringVarP(&opts.token, "token", "t", opts.token, "bearer token (defaults to $TRACKER_TOKEN)")
	fs.StringArrayVarP(&opts.watch, "watch", "w", nil, "entity id to subscribe to; repeatable")
	fs.StringArrayVar(&opts.set, "set", nil, `status change "ENTITY:CATEGORY=VALUE"; repeatable`)
	fs.DurationVar(&opts.poll, "poll", 15*time.Second, "refetch interval once the socket is lost")
	fs.BoolVar(&opts.once, "once", false, "print the snapshots and exit")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.token == "" {
		return options{}, errors.New("--token or TRACKER_TOKEN is required")
	}
	if opts.poll <= 0 {
		return options{}, errors.New("--poll must be positive")
	}
	return opts, nil
}

// parseSet reads "ENTITY:CATEGORY=VALUE". The value may be empty where the
// category allows it.
func parseSet(s string) (cache.Mutation, error) {
	target, value, ok := strings.Cut(s, "=")
	if !ok {
		return cache.Mutation{}, fmt.Errorf("set %q: missing '='", s)
	}
	entityID, rawCat, ok := strings.Cut(target, ":")
	if !ok || strings.TrimSpace(entityID) == "" {
		return cache.Mutation{}, fmt.Errorf("set %q: want ENTITY:CATEGORY=VALUE", s)
	}
	cat, err := domain.ParseCategory(strings.TrimSpace(rawCat))
	if err != nil {
		return cache.Mutation{}, fmt.Errorf("set %q: %w", s, err)
	}
	return cache.Mutation{EntityID: strings.TrimSpace(entityID), Category: cat, Value: value, Reason: "statuswatch"}, nil
}

// socketURL maps the HTTP base URL onto the realtime endpoint.
func socketURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// formatSnapshot renders one line per project, categories in display order.
func formatSnapshot(s *domain.ProjectSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", s.ID, s.OverallStatus, s.Name)
	for _, cat := range domain.Categories() {
		v := s.Value(cat)
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(&b, " | %s: %s", cat, v)
	}
	return b.String()
}

type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) all(c *cache.Cache) {
	snaps := c.List()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	for _, s := range snaps {
		p.line("%s", formatSnapshot(s))
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	mutations := make([]cache.Mutation, 0, len(opts.set))
	for _, s := range opts.set {
		m, err := parseSet(s)
		if err != nil {
			return err
		}
		mutations = append(mutations, m)
	}
	wsURL, err := socketURL(opts.server)
	if err != nil {
		return err
	}

	if err := logger.Init(opts.logLevel, "console"); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	api := apiclient.New(opts.server, opts.token, nil)
	store := cache.New(api, api)
	p := &printer{out: out}

	if err := store.Refetch(ctx); err != nil {
		return err
	}
	p.all(store)

	if err := apply(ctx, store, mutations); err != nil {
		return err
	}
	if opts.once {
		return nil
	}

	store.OnChange(func(entityID string) {
		if entityID == "" {
			return
		}
		if snap, ok := store.Get(entityID); ok {
			p.line("%s", formatSnapshot(snap))
		}
	})

	rt := client.New(client.Config{URL: wsURL, Logger: logger.Named("statuswatch")})
	store.Bind(rt)

	lost := make(chan struct{}, 1)
	fatal := make(chan error, 1)
	rt.OnError(onSocketError(lost, fatal))
	rt.OnStateChange(func(s client.State) {
		logger.Debug("Realtime state changed", zap.String("state", string(s)))
	})

	if err := rt.Connect(ctx, opts.token); err != nil {
		if errors.Is(err, apperrors.ErrUnauthorized) {
			return err
		}
		// Transient failures keep reconnecting in the background.
		logger.Warn("Realtime connect failed", zap.Error(err))
	}
	defer rt.Disconnect()
	for _, id := range opts.watch {
		rt.SubscribeToEntity(id)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return err
	case <-lost:
	}

	logger.Warn("Realtime connection lost, polling", zap.Duration("interval", opts.poll))
	return poll(ctx, store, p, opts.poll)
}

// onSocketError routes realtime client errors. Exhausted reconnects switch
// the watcher to polling. A rejected token ends it, since polling would be
// rejected too.
func onSocketError(lost chan<- struct{}, fatal chan<- error) func(error) {
	return func(err error) {
		switch {
		case errors.Is(err, client.ErrConnectionLost):
			select {
			case lost <- struct{}{}:
			default:
			}
		case errors.Is(err, apperrors.ErrUnauthorized):
			select {
			case fatal <- err:
			default:
			}
		}
	}
}

// apply submits the requested changes, one at a time or as a single batch.
func apply(ctx context.Context, store *cache.Cache, mutations []cache.Mutation) error {
	switch len(mutations) {
	case 0:
		return nil
	case 1:
		_, err := store.OptimisticUpdate(ctx, mutations[0])
		return err
	}
	if _, err := store.OptimisticBatch(ctx, mutations); err != nil {
		var be *cache.BatchError
		if errors.As(err, &be) {
			store.Revert(be)
		}
		return err
	}
	return nil
}

func poll(ctx context.Context, store *cache.Cache, p *printer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := store.Refetch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Refetch failed", zap.Error(err))
		} else {
			p.all(store)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
