package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledzpl/tcpchat/internal/chat"
	"github.com/ledzpl/tcpchat/internal/cluster"
	"github.com/ledzpl/tcpchat/internal/config"
	"github.com/ledzpl/tcpchat/internal/observe"
	"github.com/ledzpl/tcpchat/internal/wsgateway"
	"github.com/ledzpl/tcpchat/pkg/logger"
	"github.com/ledzpl/tcpchat/pkg/tcpserver"
)

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stderr))
}

// run returns the process exit code so deferred cleanup happens before exit.
func run(args []string, getenv func(string) string, stderr io.Writer) int {
	cfg, err := config.Load("tcpchat", args, getenv, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []chat.Option{
		chat.WithLogger(log),
		chat.WithFraming(cfg.Framing),
		chat.WithReadChunk(cfg.ReadChunk),
		chat.WithMaxMessage(cfg.MaxMessage),
		chat.WithMaxClients(cfg.MaxClients),
		chat.WithEcho(cfg.Echo),
		chat.WithIdleTimeout(cfg.IdleTimeout),
		chat.WithWriteTimeout(cfg.WriteTimeout),
	}

	var bus *cluster.Bus
	if cfg.RedisAddr != "" {
		var rdb interface{ Close() error }
		bus, rdb = cluster.NewRedis(cfg.RedisAddr, cfg.RedisStream, uuid.NewString(), log)
		defer rdb.Close()
		opts = append(opts, chat.WithPublisher(bus))
	}

	relay := chat.NewRelay(opts...)

	if bus != nil {
		go func() {
			if err := bus.Consume(ctx, relay.DeliverRemote); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("cluster consumer stopped", zap.Error(err))
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := observe.StartHTTP(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if cfg.WSAddr != "" {
		gw := wsgateway.New(ctx, relay.Serve, log)
		go func() {
			if err := wsgateway.ListenAndServe(ctx, cfg.WSAddr, gw, log); err != nil {
				log.Error("websocket gateway stopped", zap.Error(err))
			}
		}()
	}

	server := tcpserver.New(cfg.Addr(), log)
	err = server.ListenAndServe(ctx, relay.HandleConn)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped with error", zap.Error(err))
		return 1
	}
	log.Info("server stopped")
	return 0
}
