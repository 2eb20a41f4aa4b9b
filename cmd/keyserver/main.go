package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/mozilla-services/keyretrieval/keyservice"
	"github.com/mozilla-services/keyretrieval/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

func main() {
	defaultConfigFile := os.ExpandEnv("$HOME/lib/keyretrieval/keyserver.config")
	configFile := flag.String("config", defaultConfigFile, "location of configuration file")
	flag.Parse()

	config, err := loadConfig(*configFile)
	if err != nil {
		log.WithFields(log.Fields{
			"err":  err,
			"path": *configFile,
		}).Fatal("Could not load configuration")
	}

	logFile, err := setupLogging(config)
	if err != nil {
		log.WithFields(log.Fields{
			"err":  err,
			"path": config.LogPath,
		}).Fatal("Could not open log file")
	}
	if logFile != nil {
		defer func() {
			if err := logFile.Close(); err != nil {
				// Can't use the logger here!
				_, _ = fmt.Fprintf(os.Stderr, "Could not close log file cleanly %q: %v\n", config.LogPath, err)
			}
		}()
	}

	if err := agent.Listen(agent.Options{
		ShutdownCleanup: true,
	}); err != nil {
		log.WithField("err", err).Warn("Could not start gops agent")
	} else {
		defer agent.Close()
	}

	store, closeStore, err := openStore(config)
	if err != nil {
		log.WithFields(log.Fields{
			"err":  err,
			"type": config.Storage.Type,
		}).Fatal("Could not open storage backend")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.WithField("err", err).Warn("Could not close storage backend cleanly")
		}
	}()
	log.WithField("type", config.Storage.Type).Info("Storage backend ready")

	authenticator, err := newAuthenticator(config)
	if err != nil {
		log.WithField("err", err).Fatal("Could not configure authentication")
	}

	opts := []server.Option{server.WithAuthenticator(authenticator)}
	if config.MetricsListen != "" {
		opts = append(opts, server.WithRegisterer(prometheus.DefaultRegisterer))
		go serveMetrics(config.MetricsListen)
	}
	service := keyservice.New(store, keyservice.WithBackendTimeout(config.backendTimeout))
	srv := &http.Server{
		Addr:              config.Listen,
		Handler:           server.New(service, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Before we call srv.ListenAndServe(), which never returns unless
	// srv.Shutdown() is called, we need to install a signal handler to call
	// srv.Shutdown().
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-c
		log.WithField("signal", sig).Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("err", err).Warn("Could not shut down the server cleanly")
		}
	}()

	log.WithField("addr", config.Listen).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithField("err", err).Error("Could not listen and serve")
		return
	}
	<-done
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.WithField("addr", addr).Info("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithField("err", err).Error("Could not serve metrics")
	}
}
