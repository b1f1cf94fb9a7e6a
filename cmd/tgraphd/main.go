// Command tgraphd is the long-lived coordinator process: it owns the
// SQLite store, the loaded config (hot-reloaded from the project tier),
// and the event bus, and serves the canonical tool surface over a Unix
// domain socket as newline-delimited JSON. A background sweep logs stale
// workers (without releasing their claims) and reaps expired tombstones on
// a timer.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/eventbus"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/tools"
	"github.com/graphwork/taskgraphd/internal/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tgraphd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath     = flag.String("db", "", "path to the SQLite database (defaults to $TASK_GRAPH_DB_PATH)")
		configPath = flag.String("config", "", "path to the project config tier (defaults to $TASK_GRAPH_CONFIG_PATH)")
		socketPath = flag.String("socket", "", "Unix socket path to listen on (defaults to <db>.sock)")
		sweepEvery = flag.Duration("sweep-interval", time.Minute, "interval between stale-worker and tombstone sweeps")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	env := config.ReadEnv()
	if *dbPath == "" {
		*dbPath = env.DBPath
	}
	if *dbPath == "" {
		*dbPath = "taskgraph.db"
	}
	if *configPath == "" {
		*configPath = env.ConfigPath
	}
	if *socketPath == "" {
		*socketPath = *dbPath + ".sock"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, *dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = s.Close() }()

	watcher, err := config.NewWatcher(config.TierPaths{Project: *configPath}, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	bus := eventbus.New(logger)
	svc := tools.New(s, watcher.Current(), bus)

	if err := os.Remove(*socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *socketPath, err)
	}
	defer func() { _ = listener.Close() }()
	if err := os.Chmod(*socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("tgraphd listening", "socket", *socketPath, "db", *dbPath)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return listener.Close()
	})
	g.Go(func() error {
		return acceptLoop(gctx, listener, svc, logger)
	})
	g.Go(func() error {
		return sweepLoop(gctx, svc, *sweepEvery, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// acceptLoop accepts connections until ctx is canceled, handling each on
// its own goroutine.
func acceptLoop(ctx context.Context, listener net.Listener, svc *tools.Service, logger *slog.Logger) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go handleConn(ctx, conn, svc, logger)
	}
}

// handleConn serves one client: read a newline-delimited JSON Request,
// dispatch it, write back a newline-delimited JSON Response, repeat until
// the connection closes.
func handleConn(ctx context.Context, conn net.Conn, svc *tools.Service, logger *slog.Logger) {
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req tools.Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(writer, tools.Response{Error: &tools.ErrorPayload{
				Code: types.CodeInvalidFieldValue, Message: fmt.Sprintf("invalid request: %v", err),
			}})
			continue
		}
		resp := svc.Dispatch(ctx, req)
		writeResponse(writer, resp)
		if resp.Error != nil {
			logger.Debug("request failed", "operation", req.Operation, "code", resp.Error.Code)
		}
	}
}

func writeResponse(w *bufio.Writer, resp tools.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = w.Write(body)
	_, _ = w.Write([]byte{'\n'})
	_ = w.Flush()
}

// sweepLoop periodically logs workers that have gone stale (past the
// configured heartbeat timeout), without disconnecting them, and reaps
// tombstones past their retention TTL, the coordinator's only self-driven
// background work.
func sweepLoop(ctx context.Context, svc *tools.Service, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweepOnce(ctx, svc, logger)
		}
	}
}

// sweepOnce uses svc's engines as constructed at startup. config.Watcher
// hot-reloads the project tier for processes that re-read Current() on
// every access; wiring that into the already-constructed task/dep/worker
// engines (which close over one *Config at New time) is a follow-up — see
// DESIGN.md.
//
// Staleness itself is never acted on here: spec.md §5 is explicit that a
// stale worker's claims are never auto-released, only licensed for a
// caller's forced reclaim (Update or Connect with force=true). This sweep
// only logs staleness for operator visibility and reaps tombstones.
func sweepOnce(ctx context.Context, svc *tools.Service, logger *slog.Logger) {
	workerList, err := svc.ListWorkers(ctx)
	if err != nil {
		logger.Warn("sweep: list workers failed", "error", err)
		return
	}
	for _, w := range workerList {
		if svc.Workers.IsStale(w) {
			logger.Info("sweep: worker is stale", "worker_id", w.ID, "last_heartbeat", w.LastHeartbeat)
		}
	}

	reaped, err := svc.Tasks.ReapExpiredTombstones(ctx, 0)
	if err != nil {
		logger.Warn("sweep: reap tombstones failed", "error", err)
		return
	}
	if len(reaped) > 0 {
		logger.Info("sweep: reaped expired tombstones", "count", len(reaped))
	}
}
