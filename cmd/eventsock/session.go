package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/codefionn/eventsock/internal/config"
	"github.com/codefionn/eventsock/internal/logger"
	"github.com/codefionn/eventsock/internal/netstate"
	"github.com/codefionn/eventsock/internal/queue"
	"github.com/codefionn/eventsock/internal/router"
	"github.com/codefionn/eventsock/internal/transport"
)

// session is one connected router with its queue
type session struct {
	cfg    *config.Config
	router *router.Router
	queue  *queue.Queue
}

func initLogging(cfg *config.Config) error {
	return logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath)
}

// openStore opens the configured durable queue backend. It returns nil for
// the "none" backend.
func openStore(cfg *config.Config) (queue.Store, error) {
	switch cfg.Queue.Backend {
	case config.QueueFile:
		return queue.NewFileStore(cfg.Queue.Path)
	case config.QueueSQLite:
		return queue.NewSQLiteStore(cfg.Queue.Path, cfg.Queue.Name)
	case config.QueueNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// openSession builds the router and connects it. quiet suppresses the
// connection state lines on stderr.
func openSession(cfg *config.Config, quiet bool) (*session, error) {
	if cfg.Server.Address == "" {
		return nil, errors.New("no server address, set server.address in the config or pass --address")
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	var q *queue.Queue
	if store != nil {
		q = queue.New(store)
	}

	r, err := router.New(router.Config{
		Transport:      transport.NewWebSocket(transport.WebSocketConfig{}),
		Queue:          q,
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		closeQueue(q)
		return nil, err
	}
	if !quiet {
		r.OnStateChange(printState)
	}

	err = r.Connect(router.ConnectOptions{
		Address:              cfg.Server.Address,
		Path:                 cfg.Server.Path,
		AutoReconnect:        cfg.Reconnect.Enabled,
		ConnectTimeout:       cfg.ConnectTimeout(),
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		Backoff:              cfg.Backoff(),
		Token:                cfg.Server.Token,
	})
	if err != nil {
		closeQueue(q)
		return nil, err
	}
	return &session{cfg: cfg, router: r, queue: q}, nil
}

func (s *session) Close() error {
	err := s.router.Shutdown()
	return errors.Join(err, closeQueue(s.queue))
}

func closeQueue(q *queue.Queue) error {
	if q == nil {
		return nil
	}
	return q.Close()
}

func printState(state netstate.State, err error) {
	var label string
	switch state {
	case netstate.Connected:
		label = color.GreenString(state.String())
	case netstate.Connecting, netstate.Reconnecting:
		label = color.YellowString(state.String())
	case netstate.Disconnected:
		label = color.New(color.Faint).Sprint(state.String())
	default:
		label = color.RedString(state.String())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", color.CyanString("[state]"), label, err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", color.CyanString("[state]"), label)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
