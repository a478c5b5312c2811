package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/labeldb"
	"github.com/cyclopcam/labeler/pkg/nn"
	"github.com/cyclopcam/labeler/pkg/session"
	"github.com/cyclopcam/labeler/server/config"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
)

// Server exposes labeling sessions over HTTP.
// Every session shares one class registry.
type Server struct {
	Log logs.Log

	cfg        *config.Config
	sessionCfg session.Config
	reg        *classes.Registry
	predictor  nn.Predictor
	progress   *labeldb.LabelDB
	metrics    *Metrics
	promReg    *prometheus.Registry

	docsLock sync.Mutex
	docs     map[uuid.UUID]*session.Controller

	signalIn   chan os.Signal
	closing    chan struct{}
	closeOnce  sync.Once
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

// NewServer creates a server with an empty class registry.
// Use Registry() to seed classes before serving.
func NewServer(log logs.Log, cfg *config.Config) (*Server, error) {
	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	promReg := prometheus.NewRegistry()
	metrics, err := NewMetrics(promReg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Log:        log,
		cfg:        cfg,
		sessionCfg: sessionCfg,
		reg:        classes.NewRegistry(),
		metrics:    metrics,
		promReg:    promReg,
		docs:       map[uuid.UUID]*session.Controller{},
		closing:    make(chan struct{}),
	}
	if cfg.PredictorURL != "" {
		s.Log.Infof("Using predictor at %v", cfg.PredictorURL)
		s.predictor = nn.NewHTTPPredictor(cfg.PredictorURL)
	}
	if cfg.ProgressDB != "" {
		s.progress, err = labeldb.Open(log, cfg.ProgressDB)
		if err != nil {
			return nil, err
		}
	}
	if err := s.setupHttpRoutes(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) Registry() *classes.Registry {
	return s.reg
}

// SetPredictor replaces the predictor for documents that are created after this call
func (s *Server) SetPredictor(p nn.Predictor) {
	s.docsLock.Lock()
	defer s.docsLock.Unlock()
	s.predictor = p
}

// Handler returns the router, for use with httptest
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops the HTTP server, closes every document, and closes the log.
// Unsaved changes are lost.
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	s.Close()
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("Shutdown complete, with error: %v", err)
		} else {
			s.Log.Infof("Shutdown complete")
		}
	}
	s.Log.Close()
}

// Close closes every document and the progress DB, but leaves the HTTP server and the log alone.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.docsLock.Lock()
		docs := s.docs
		s.docs = map[uuid.UUID]*session.Controller{}
		s.docsLock.Unlock()
		for id, c := range docs {
			if c.State() == session.StateDirty {
				s.Log.Warnf("Closing document %v with unsaved changes", id)
			}
			c.Close()
		}
		if s.progress != nil {
			s.progress.Close()
		}
	})
}

// newDocument creates a controller, wired to the server's predictor, progress DB and metrics
func (s *Server) newDocument() (uuid.UUID, *session.Controller, error) {
	c, err := session.NewController(s.Log, s.reg, s.sessionCfg)
	if err != nil {
		return uuid.Nil, nil, err
	}
	s.docsLock.Lock()
	defer s.docsLock.Unlock()
	select {
	case <-s.closing:
		c.Close()
		return uuid.Nil, nil, session.ErrClosed
	default:
	}
	if s.predictor != nil {
		c.SetPredictor(s.predictor)
	}
	if s.progress != nil {
		c.SetProgressStore(s.progress)
	}
	c.AddListener(s.metrics)
	id := uuid.New()
	s.docs[id] = c
	s.metrics.OpenDocuments.Set(float64(len(s.docs)))
	return id, c, nil
}

func (s *Server) getDocument(id uuid.UUID) (*session.Controller, bool) {
	s.docsLock.Lock()
	defer s.docsLock.Unlock()
	c, ok := s.docs[id]
	return c, ok
}

func (s *Server) closeDocument(id uuid.UUID) bool {
	s.docsLock.Lock()
	c, ok := s.docs[id]
	delete(s.docs, id)
	s.metrics.OpenDocuments.Set(float64(len(s.docs)))
	s.docsLock.Unlock()
	if ok {
		c.Close()
	}
	return ok
}
