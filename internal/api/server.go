package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"ironfront/internal/game"
)

// metricsPollInterval is how often session gauges are sampled.
const metricsPollInterval = time.Second

// Server is the HTTP API server with the websocket relay attached.
type Server struct {
	loop        *game.Loop
	session     *game.Session
	hub         *Hub
	router      *chi.Mux
	rateLimiter *IPRateLimiter

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer creates an API server. Background workers do not start until
// Start is called, so tests can construct one and use Router directly.
// adminToken guards the mutating control routes; empty leaves them open.
func NewServer(loop *game.Loop, session *game.Session, adminToken string) *Server {
	s := &Server{
		loop:        loop,
		session:     session,
		hub:         NewHub(loop, session),
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
		stop:        make(chan struct{}),
	}

	s.router = NewRouter(RouterConfig{
		Loop:        loop,
		Session:     session,
		Hub:         s.hub,
		RateLimiter: s.rateLimiter,
		AdminToken:  adminToken,
	})

	return s
}

// Hub returns the websocket relay, which also carries the local session's
// outbound traffic.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start launches the relay and the metrics poller, then serves HTTP.
// Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.metricsLoop()

	log.Printf("API server listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Stop shuts down the relay and background workers.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.hub.Stop()
		s.rateLimiter.Stop()
	})
}

// metricsLoop samples session gauges on the loop goroutine.
func (s *Server) metricsLoop() {
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.loop.Do(func() {
				UpdateSessionGauges(
					s.session.Scheduler().CallCount(),
					s.session.Delayer().DelayedMessageCount(),
					s.session.Delayer().DelayedAdvanceMessageCount(),
					len(s.session.Players()),
					len(s.session.Lists().ActivePlayers()),
					s.session.Synchronizer().DesyncsDetected(),
					s.session.Synchronizer().ResyncsCompleted(),
				)
			})
		}
	}
}
