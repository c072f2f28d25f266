package server

import (
	"log"
	"time"

	"chatd/protocol"
	"chatd/store"
)

// handleSubscribe answers the subscribe request and, on success, turns
// this connection into a long-lived delivery loop. The caller closes the
// socket and releases the session when this returns.
func (s *Server) handleSubscribe(sess *session, req *protocol.Request) {
	if sess.userID == "" || sess.userID != req.UserID {
		s.sendError(sess.conn, req.UserID, store.ErrNotLoggedIn.Error())
		return
	}

	wake, err := s.store.Subscribe(req.UserID)
	if err != nil {
		s.sendError(sess.conn, req.UserID, err.Error())
		return
	}
	if s.sendOK(sess.conn, req.UserID) != nil {
		return
	}

	log.Printf("Client %s subscribed", req.UserID)
	s.deliver(sess, wake)
}

// deliver blocks until the account's mailbox signals non-empty, then
// drains it. Before each message a health probe must elicit a reply;
// a silent or dead peer aborts the loop. Shutdown is observed at least
// once per poll interval.
func (s *Server) deliver(sess *session, wake <-chan struct{}) {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-wake:
		case <-timer.C:
		}
		if !s.alive.Load() {
			return
		}

		for _, msg := range s.store.Drain(sess.userID) {
			if err := s.probe(sess.conn); err != nil {
				log.Printf("Health probe failed for %s: %v", sess.userID, err)
				return
			}
			data, err := protocol.EncodeMessage(msg)
			if err != nil {
				log.Printf("Error encoding message for %s: %v", sess.userID, err)
				continue
			}
			if s.writeFrame(sess.conn, data) != nil {
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.config.PollInterval)
	}
}
