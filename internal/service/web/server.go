package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geoprobe/internal/shared/types"
)

// loggingListener 记录每个接入的连接, 便于排查。
type loggingListener struct {
	net.Listener
	log zerolog.Logger
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.log.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("Connection accepted.")
	}
	return conn, err
}

// basicAuthMiddleware 在 user 和 password 都配置时强制 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux wires the API routes. /api/status is public, everything else requires auth.
func NewMux(cfg types.WebConf, handler *Handler, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/probe", basicAuthMiddleware(http.HandlerFunc(handler.HandleProbe), cfg.User, cfg.Password))
	mux.Handle("/ws", basicAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}), cfg.User, cfg.Password))
	mux.HandleFunc("/api/status", handler.HandleStatus)
	return mux
}

// StartServer 监听 web 端口并在后台提供服务, ctx 结束时优雅关闭。
// port 为 0 时不启动。
func StartServer(ctx context.Context, wg *sync.WaitGroup, cfg types.WebConf, prober Prober, log zerolog.Logger) error {
	if cfg.Port <= 0 {
		log.Info().Msg("Web API is disabled (web port is 0 or not set).")
		return nil
	}

	hub := NewHub(log)
	go hub.Run(ctx)
	handler := NewHandler(prober, hub, log)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start web api on %s: %w", addr, err)
	}
	log.Info().Msgf("Web API is listening on http://%s", addr)

	srv := &http.Server{
		Handler:           NewMux(cfg, handler, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := srv.Serve(loggingListener{Listener: listener, log: log}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Web server error.")
		}
		log.Info().Msg("Web server stopped.")
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return nil
}
