// Package server exposes a keyservice.Service over HTTP.
//
// Valid requests are GETs, PUTs and DELETEs to paths of the form "/alice",
// that is, slash followed by the user name whose key-retrieval data is to be
// read or written. The caller must authenticate as that same user.
//
// GETs return 200 and the stored data as text/plain, or 404 if nothing is
// stored. PUTs store the request body, which must be text/* (or untyped),
// declare its length, and be at most 8 KiB; they return 204. DELETEs return
// 204, or 404 if nothing was stored. Other methods return 405. Failures of
// the storage backend return 500.
//
// GET /__heartbeat__ returns 200 if the server, and its backend where that
// can be checked, are healthy.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mozilla-services/keyretrieval/auth"
	"github.com/mozilla-services/keyretrieval/keyservice"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type Option func(*options)

type options struct {
	authenticator auth.Authenticator
	registerer    prometheus.Registerer
}

// WithAuthenticator sets how principals are resolved. Without one, every
// request is anonymous and only the heartbeat succeeds.
func WithAuthenticator(value auth.Authenticator) Option {
	return func(o *options) {
		o.authenticator = value
	}
}

// WithRegisterer registers request metrics with the given registry.
func WithRegisterer(value prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = value
	}
}

type Server struct {
	opts    options
	service *keyservice.Service
	router  *mux.Router

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func New(service *keyservice.Service, opts ...Option) *Server {
	s := &Server{
		service: service,
		router:  mux.NewRouter(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyretrieval",
			Name:      "requests_total",
			Help:      "Requests processed, by operation and status code.",
		}, []string{"op", "code"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keyretrieval",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process requests, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	for _, o := range opts {
		o(&s.opts)
	}
	if s.opts.registerer != nil {
		s.opts.registerer.MustRegister(s.requests, s.durations)
	}
	s.router.HandleFunc("/"+keyservice.HeartbeatPath, s.heartbeat).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/{username}", s.userKey)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		log.WithField("err", err).Error("Heartbeat failed")
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) principal(r *http.Request) (string, error) {
	if s.opts.authenticator == nil {
		return "", nil
	}
	return s.opts.authenticator.Authenticate(r)
}

func (s *Server) userKey(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username := mux.Vars(r)["username"]
	op := opFor(r.Method)
	logger := log.WithFields(log.Fields{
		"op":   op,
		"user": username,
	})
	status, body := func() (int, []byte) {
		principal, err := s.principal(r)
		if err != nil {
			logger.WithField("err", err).Info("Authentication failed")
			return http.StatusUnauthorized, nil
		}
		logger = logger.WithField("principal", principal)
		ctx := auth.WithPrincipal(r.Context(), principal)
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.Retrieve(ctx, username, principal)
			if err != nil {
				return s.failure(logger, err), nil
			}
			w.Header().Set("Content-Type", "text/plain")
			logger.Debug("Success")
			return http.StatusOK, payload
		case http.MethodPut:
			err := s.service.Upload(ctx, username, principal, keyservice.UploadRequest{
				Body:          r.Body,
				ContentType:   r.Header.Get("Content-Type"),
				ContentLength: r.ContentLength,
			})
			if err != nil {
				return s.failure(logger, err), nil
			}
			logger.Debug("Success")
			return http.StatusNoContent, nil
		case http.MethodDelete:
			if err := s.service.Remove(ctx, username, principal); err != nil {
				return s.failure(logger, err), nil
			}
			logger.Debug("Success")
			return http.StatusNoContent, nil
		default:
			logger.Warn("Method not allowed")
			w.Header().Set("Allow", "GET, PUT, DELETE")
			return http.StatusMethodNotAllowed, nil
		}
	}()
	if status == http.StatusUnauthorized && s.opts.authenticator != nil {
		if challenge := s.opts.authenticator.Challenge(); challenge != "" {
			w.Header().Set("WWW-Authenticate", challenge)
		}
	}
	if body == nil && status >= 400 {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		body = []byte(http.StatusText(status))
	}
	if status != http.StatusNoContent {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.WriteHeader(status)
	if status != http.StatusNoContent && body != nil {
		if _, err := w.Write(body); err != nil {
			logger.WithField("err", err).Error("Failed writing response")
		}
	}
	s.requests.WithLabelValues(op, strconv.Itoa(status)).Inc()
	s.durations.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// failure logs err at a level befitting its status code, which it returns.
// Missing records are routine and only logged when debugging.
func (s *Server) failure(logger *log.Entry, err error) int {
	status := keyservice.StatusCode(err)
	logger = logger.WithFields(log.Fields{
		"err":    err,
		"status": status,
	})
	switch {
	case status == http.StatusNotFound:
		logger.Debug("Not found")
	case status >= 500:
		logger.Error("Backend failure")
	default:
		logger.Info("Rejected")
	}
	return status
}

func opFor(method string) string {
	switch method {
	case http.MethodGet:
		return "retrieve"
	case http.MethodPut:
		return "upload"
	case http.MethodDelete:
		return "remove"
	default:
		return "other"
	}
}
