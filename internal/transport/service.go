package transport

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pongclash/server/internal/events"
	"github.com/pongclash/server/internal/keyclash"
	"github.com/pongclash/server/internal/lobby"
	"github.com/pongclash/server/internal/pong"
)

// Service bundles the three namespaces (lobby, pong, key clash) over
// one registry and exposes their websocket endpoints.
type Service struct {
	Registry *lobby.Registry

	lobbyHub    *Hub
	pongHub     *Hub
	keyClashHub *Hub

	lobbyHandler    *LobbyHandler
	pongHandler     *PongHandler
	keyClashHandler *KeyClashHandler
}

// Options configure a Service. Zero-value fields get defaults.
type Options struct {
	Config      Config
	Clock       clockwork.Clock
	Events      events.Publisher
	Rand        *rand.Rand
	PongTuning  *pong.Tuning
	ClashTuning *keyclash.Tuning
}

// NewService wires hubs, handlers and the registry.
func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Config.PingInterval == 0 {
		opts.Config = DefaultConfig()
	}

	s := &Service{
		Registry:    lobby.NewRegistry(opts.Rand),
		lobbyHub:    NewHub(opts.Config),
		pongHub:     NewHub(opts.Config),
		keyClashHub: NewHub(opts.Config),
	}

	s.lobbyHandler = NewLobbyHandler(
		s.lobbyHub, s.pongHub, s.keyClashHub,
		s.Registry, opts.Clock, opts.Events, opts.Rand,
		opts.PongTuning, opts.ClashTuning,
	)
	s.pongHandler = NewPongHandler(s.pongHub, s.Registry, s.lobbyHandler.BroadcastLobby)
	s.keyClashHandler = NewKeyClashHandler(s.keyClashHub, s.Registry, s.lobbyHandler.BroadcastLobby)

	return s
}

// RegisterRoutes mounts the websocket endpoints on the mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/lobby", s.lobbyHub.Endpoint(s.lobbyHandler))
	mux.HandleFunc("/ws/pong", s.pongHub.Endpoint(s.pongHandler))
	mux.HandleFunc("/ws/keyclash", s.keyClashHub.Endpoint(s.keyClashHandler))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"game-server","connections":%d}`, s.ConnectionCount())
	})
}

// ConnectionCount reports live connections across all namespaces.
func (s *Service) ConnectionCount() int {
	return s.lobbyHub.ConnectionCount() + s.pongHub.ConnectionCount() + s.keyClashHub.ConnectionCount()
}

// Shutdown stops every live room loop. A restart loses all live rooms
// by design.
func (s *Service) Shutdown() {
	s.Registry.StopAll()
}
