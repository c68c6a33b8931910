package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/uptrace/bunrouter"
	"github.com/vkuznet/mlpromote/serving"
)

// bunrouter implementation of the compatible (with net/http) router handlers
func bunRouter(h *Handlers) *bunrouter.CompatRouter {
	router := bunrouter.New(
		bunrouter.Use(bunrouterLoggingMiddleware),
		bunrouter.Use(bunrouterLimitMiddleware),
	).Compat()
	base := Config.Base

	// probes
	router.GET(base+"/live", h.LiveHandler)
	router.GET(base+"/ready", h.ReadyHandler)
	router.GET(base+"/ping", h.PingHandler)

	// model APIs
	router.POST(base+"/predict", h.PredictHandler)
	router.POST(base+"/admin/reload", h.ReloadHandler)

	// web APIs
	router.GET(base+"/docs", h.DocsHandler)
	return router
}

// Server implements serving node HTTP server, it returns when server is
// stopped by the signal
func Server(node *serving.Node) error {

	// initialize server middleware
	if err := initLimiter(Config.LimiterPeriod); err != nil {
		return err
	}

	// setup server router
	h := &Handlers{Node: node, AdminToken: Config.AdminToken, MaxPayload: Config.MaxPayload}
	router := bunRouter(h)

	var server *http.Server
	var crt, key string
	if len(Config.DomainNames) > 0 {
		server = LetsEncryptServer(Config.DomainNames...)
		log.Println("Start HTTPs server with LetsEncrypt", Config.DomainNames)
	} else if Config.ServerCrt != "" && Config.ServerKey != "" {
		server = &http.Server{
			Addr:      fmt.Sprintf(":%d", Config.Port),
			TLSConfig: &tls.Config{RootCAs: RootCAs()},
		}
		crt, key = Config.ServerCrt, Config.ServerKey
		log.Printf("Start HTTPs server with %s and %s on :%d", crt, key, Config.Port)
	} else {
		server = &http.Server{Addr: fmt.Sprintf(":%d", Config.Port)}
		log.Printf("Start HTTP server on :%d", Config.Port)
	}
	server.Handler = router

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}

	// setup graceful termination
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, server, ln, crt, key)
}

// helper function to serve requests until context is done, it returns once
// in-flight requests are completed or shutdown timeout elapses
func serve(ctx context.Context, server *http.Server, ln net.Listener, crt, key string) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Println("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), time.Duration(Config.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Println("failed to gracefully shutdown", err)
		}
	}()

	var err error
	if server.TLSConfig != nil {
		err = server.ServeTLS(ln, crt, key)
	} else {
		err = server.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	log.Println("server stopped")
	return nil
}
