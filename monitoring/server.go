package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fuentelabs/invoicer/build"
	"github.com/fuentelabs/invoicer/journal"
	"github.com/fuentelabs/invoicer/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultListen is the default address of the status server.
	DefaultListen = "localhost:8989"

	readHeaderTimeout = 10 * time.Second
	requestTimeout    = 30 * time.Second
)

// Journal is the read side of the order journal.
type Journal interface {
	History(orderID string) ([]journal.Entry, error)
	Interventions() ([]journal.Intervention, error)
}

// ServerConfig holds the sources served by the status server.
type ServerConfig struct {
	Listen string

	Gatherer prometheus.Gatherer
	Registry *registry.Registry

	// Journal is optional. Without it order history and interventions are
	// not served.
	Journal Journal
}

// Server is the HTTP status endpoint of the daemon: prometheus metrics, a
// health check, order history and the intervention list.
type Server struct {
	cfg *ServerConfig

	srv      *http.Server
	listener net.Listener

	started sync.Once
	wg      sync.WaitGroup
}

// NewServer creates a status server.
func NewServer(cfg *ServerConfig) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}

	s := &Server{cfg: cfg}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.cfg.Gatherer, promhttp.HandlerOpts{},
	))
	r.Get("/healthz", s.health)
	r.Get("/orders/{id}", s.order)
	r.Get("/interventions", s.interventions)

	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	var err error
	s.started.Do(func() {
		s.listener, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return
		}

		log.Infof("Status server listening on %v", s.listener.Addr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			err := s.srv.Serve(s.listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Status server failed: %v", err)
			}
		}()
	})

	return err
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop shuts the server down, waiting for in flight requests until ctx is
// done.
func (s *Server) Stop(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()

	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Unable to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Orders     int    `json:"orders"`
	LiveOrders int    `json:"live_orders"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &healthResponse{
		Status:     "ok",
		Version:    build.Version(),
		Orders:     s.cfg.Registry.NumOrders(),
		LiveOrders: len(s.cfg.Registry.LiveOrders()),
	})
}

// orderResponse is the operator view of an order.
type orderResponse struct {
	OrderID       string          `json:"order_id"`
	Buyer         string          `json:"buyer,omitempty"`
	PaymentStatus string          `json:"payment_status,omitempty"`
	OrderStatus   string          `json:"order_status,omitempty"`
	Courier       string          `json:"courier,omitempty"`
	History       []journal.Entry `json:"history"`
}

func (s *Server) order(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := &orderResponse{OrderID: id, History: []journal.Entry{}}

	state, err := s.cfg.Registry.Order(id)
	switch {
	case err == nil:
		resp.Buyer = state.Buyer()
		resp.PaymentStatus = string(state.PaymentStatus)
		resp.OrderStatus = string(state.OrderStatus)
		resp.Courier = state.CourierPubKey()

	case !errors.Is(err, registry.ErrOrderNotFound):
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	live := err == nil

	// Orders of earlier runs are only known to the journal.
	if s.cfg.Journal != nil {
		history, err := s.cfg.Journal.History(id)
		switch {
		case err == nil:
			resp.History = history

		case !errors.Is(err, journal.ErrUnknownOrder):
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		if !live && len(history) > 0 {
			last := history[len(history)-1]
			resp.PaymentStatus = last.PaymentStatus
			resp.OrderStatus = last.OrderStatus
			resp.Courier = last.Courier
		}
	}

	if !live && len(resp.History) == 0 {
		writeError(w, http.StatusNotFound, registry.ErrOrderNotFound)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) interventions(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Journal == nil {
		writeJSON(w, http.StatusOK, []journal.Intervention{})
		return
	}

	list, err := s.cfg.Journal.Interventions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []journal.Intervention{}
	}

	writeJSON(w, http.StatusOK, list)
}
