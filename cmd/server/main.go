package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/factory"
	"github.com/rkohli77/chatbot/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := f.Router()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		f.RunBackground(bgCtx)
	}()

	servers := buildServers(f, cfg, router)
	for _, srv := range servers {
		go serve(srv)
	}

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", servers[0].Addr),
	)

	waitForShutdown(servers...)
	stopBackground()
	bg.Wait()
}

// buildServers returns the API server first. With TLS enabled a plain HTTP
// listener on the regular port answers ACME challenges and redirects.
func buildServers(f *factory.Factory, cfg *config.Config, router http.Handler) []*http.Server {
	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		return []*http.Server{newServer(cfg, cfg.GetServerAddress(), router)}
	}

	tlsManager := f.TLSManager()
	httpsServer := newServer(cfg, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort), router)
	httpsServer.TLSConfig = tlsManager.GetTLSConfig()

	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := "https://" + cfg.Server.Domain
		if cfg.Server.TLSPort != 443 {
			target = fmt.Sprintf("%s:%d", target, cfg.Server.TLSPort)
		}
		http.Redirect(w, r, target+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
	httpServer := newServer(cfg, cfg.GetServerAddress(), tlsManager.HTTPHandler(redirect))

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)
	return []*http.Server{httpsServer, httpServer}
}

func newServer(cfg *config.Config, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func serve(srv *http.Server) {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("Server failed to start", util.String("address", srv.Addr), util.ErrorField(err))
	}
}

func waitForShutdown(servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
}
