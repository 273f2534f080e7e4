package wsgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ledzpl/tcpchat/internal/chat"
)

// ServeFunc runs a chat session on conn until the client leaves.
type ServeFunc func(ctx context.Context, conn chat.Conn)

// Gateway upgrades HTTP requests to websockets and hands them to a chat relay.
type Gateway struct {
	ctx      context.Context
	serve    ServeFunc
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a Gateway. Sessions end when ctx is cancelled.
func New(ctx context.Context, serve ServeFunc, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		ctx:    ctx,
		serve:  serve,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(g.ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	g.logger.Debug("websocket accepted", zap.String("remote", r.RemoteAddr))
	g.serve(ctx, newConn(ws))
}

// ListenAndServe serves the gateway on addr at "/" until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, gw *Gateway, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/", gw)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("websocket gateway listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("wsgateway: serve %q: %w", addr, err)
	}
	return nil
}
