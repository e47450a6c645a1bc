package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"chatsync/pkg/protocol"
)

// AliveInterval is how often the server broadcasts a keep-alive.
const AliveInterval = time.Second

// Server accepts WebSocket connections and delegates to a Hub.
type Server struct {
	address string
	hub     *Hub
	log     logrus.FieldLogger

	listener net.Listener
	server   *http.Server
	quit     chan struct{}
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(log logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a Server that uses the provided Hub.
func New(address string, hub *Hub, opts ...ServerOption) *Server {
	s := &Server{
		address: address,
		hub:     hub,
		log:     logrus.StandardLogger(),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the address. After it returns, Addr reports where the server
// will accept connections.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s failed", s.address)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}
	return nil
}

// Serve accepts connections until Stop. It blocks.
func (s *Server) Serve() error {
	s.wg.Add(1)
	go s.tickAlive()

	s.log.WithField("address", s.listener.Addr().String()).Info("chat server started")
	return s.server.Serve(s.listener)
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	close(s.quit)
	if s.server != nil {
		_ = s.server.Shutdown(context.Background())
	}
	s.wg.Wait()
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) tickAlive() {
	defer s.wg.Done()
	ticker := time.NewTicker(AliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.hub.Broadcast(protocol.AliveEvent{})
		case <-s.quit:
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket accept failed")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	id, events := s.hub.Connect()
	defer s.hub.Disconnect(id)

	go s.writeEvents(c, events)

	for {
		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		req, err := protocol.DecodeRequest(data)
		if err != nil {
			s.log.WithError(err).WithField("client", id).Warn("dropping undecodable request")
			continue
		}
		s.hub.Handle(id, req)
	}
}

func (s *Server) writeEvents(c *websocket.Conn, events <-chan protocol.Event) {
	for ev := range events {
		data, err := protocol.EncodeEvent(ev)
		if err != nil {
			s.log.WithError(err).Error("encode event failed")
			continue
		}
		if err := c.Write(context.Background(), websocket.MessageText, data); err != nil {
			return
		}
	}
}
