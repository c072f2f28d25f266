package server

import (
	"errors"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chatd/protocol"
	"chatd/store"
)

// ErrAlreadyBound rejects a create or login on a connection that is
// already bound to an account. Reconnect to switch accounts.
var ErrAlreadyBound = errors.New("connection already bound to an account")

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ProbeTimeout time.Duration
	PollInterval time.Duration
}

type Server struct {
	store  *store.Store
	config *Config

	alive atomic.Bool
	done  chan struct{}
	conns atomic.Int64

	mu       sync.Mutex
	listener net.Listener
}

// session is the per-connection state: the bound user id and an
// idempotency guard for logout on teardown.
type session struct {
	conn   net.Conn
	userID string
	once   sync.Once
}

// release clears the bound account's logged-in flag exactly once, no
// matter how many teardown paths reach it.
func (sess *session) release(st *store.Store) {
	sess.once.Do(func() {
		if sess.userID != "" {
			st.Logout(sess.userID)
		}
	})
}

func New(st *store.Store, config *Config) *Server {
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 10 * time.Second
	}
	srv := &Server{
		store:  st,
		config: config,
		done:   make(chan struct{}),
	}
	srv.alive.Store(true)
	return srv
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	log.Printf("chat server listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.alive.Load() {
				return nil
			}
			log.Printf("Error accepting connection: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// Addr reports the bound listen address, or nil before Start has one.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown clears the liveness flag and closes the listener. Blocked
// subscribe loops observe it within one poll interval.
func (s *Server) Shutdown() {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	close(s.done)
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	log.Printf("chat server shutting down")
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	s.conns.Add(1)
	defer s.conns.Add(-1)

	remoteAddr := conn.RemoteAddr().String()
	log.Printf("New client connected from %s", remoteAddr)

	sess := &session{conn: conn}
	defer sess.release(s.store)

	for {
		if !s.alive.Load() {
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		op, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle between frames; keep waiting unless shutting down.
				continue
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				// The stream is desynced past an oversized length; a
				// failure response is still feasible, resyncing is not.
				log.Printf("Oversized frame from %s: %v", remoteAddr, err)
				s.sendError(conn, sess.userID, err.Error())
				break
			}
			// EOF or socket failure: connection is gone.
			break
		}

		req, err := protocol.DecodeRequest(op, payload)
		if err != nil {
			log.Printf("Malformed frame from %s (opcode 0x%02x): %v", remoteAddr, op, err)
			if s.sendError(conn, sess.userID, err.Error()) != nil {
				break
			}
			continue
		}

		if op == protocol.OpSubscribe {
			// Terminal state: the connection never returns to
			// request/response mode.
			s.handleSubscribe(sess, req)
			break
		}

		if s.handleRequest(sess, req) != nil {
			break
		}
	}

	if sess.userID != "" {
		log.Printf("Client %s disconnected from %s", sess.userID, remoteAddr)
	} else {
		log.Printf("Client disconnected from %s", remoteAddr)
	}
}

func (s *Server) writeFrame(conn net.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := conn.Write(data); err != nil {
		log.Printf("Error writing to connection: %v", err)
		return err
	}
	return nil
}

func (s *Server) sendOK(conn net.Conn, userID string) error {
	data, err := protocol.EncodeResponse(&protocol.Response{UserID: userID, Success: true})
	if err != nil {
		return err
	}
	return s.writeFrame(conn, data)
}

func (s *Server) sendError(conn net.Conn, userID, description string) error {
	data, err := protocol.EncodeResponse(&protocol.Response{UserID: userID, ErrorMessage: description})
	if err != nil {
		return err
	}
	return s.writeFrame(conn, data)
}

// Stats returns server statistics as a formatted string.
func (s *Server) Stats() string {
	return "connections=" + strconv.FormatInt(s.conns.Load(), 10) +
		",accounts=" + strconv.Itoa(s.store.Count())
}
