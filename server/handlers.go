package server

import (
	"net"
	"time"

	"chatd/protocol"
)

// handleRequest dispatches one decoded request and writes its response.
// The returned error is a connection error; domain failures are encoded
// into the response and return nil.
func (s *Server) handleRequest(sess *session, req *protocol.Request) error {
	switch req.Op {
	case protocol.OpCreate:
		return s.handleCreate(sess, req)
	case protocol.OpLogin:
		return s.handleLogin(sess, req)
	case protocol.OpDelete:
		return s.handleDelete(sess, req)
	case protocol.OpList:
		return s.handleList(sess, req)
	case protocol.OpSend:
		return s.handleSend(sess, req)
	case protocol.OpHealth:
		return s.sendOK(sess.conn, sess.userID)
	}
	return s.sendError(sess.conn, sess.userID, protocol.ErrMalformedFrame.Error())
}

func (s *Server) handleCreate(sess *session, req *protocol.Request) error {
	if sess.userID != "" {
		// Re-authentication on a bound connection is rejected locally;
		// the directory is not consulted.
		return s.sendError(sess.conn, req.UserID, ErrAlreadyBound.Error())
	}
	if err := s.store.Create(req.UserID); err != nil {
		return s.sendError(sess.conn, req.UserID, err.Error())
	}
	sess.userID = req.UserID
	return s.sendOK(sess.conn, req.UserID)
}

func (s *Server) handleLogin(sess *session, req *protocol.Request) error {
	if sess.userID != "" {
		return s.sendError(sess.conn, req.UserID, ErrAlreadyBound.Error())
	}
	if err := s.store.Login(req.UserID); err != nil {
		return s.sendError(sess.conn, req.UserID, err.Error())
	}
	sess.userID = req.UserID
	return s.sendOK(sess.conn, req.UserID)
}

func (s *Server) handleDelete(sess *session, req *protocol.Request) error {
	if err := s.store.Delete(req.UserID); err != nil {
		return s.sendError(sess.conn, req.UserID, err.Error())
	}
	return s.sendOK(sess.conn, req.UserID)
}

func (s *Server) handleList(sess *session, req *protocol.Request) error {
	accounts := s.store.List(req.Wildcard, int(req.Page))
	resp := &protocol.ListResponse{
		Response: protocol.Response{UserID: sess.userID, Success: true},
		Accounts: accounts,
	}
	data, err := protocol.EncodeListResponse(resp)
	if err != nil {
		return s.sendError(sess.conn, sess.userID, err.Error())
	}
	return s.writeFrame(sess.conn, data)
}

// handleSend takes the author from the bound session, never from the
// frame. An unbound session fails the author check.
func (s *Server) handleSend(sess *session, req *protocol.Request) error {
	if err := s.store.Send(sess.userID, req.RecipientID, req.Text); err != nil {
		return s.sendError(sess.conn, sess.userID, err.Error())
	}
	return s.sendOK(sess.conn, sess.userID)
}

// probe verifies the peer is still reachable: one zero-payload health
// frame out, at least one byte back within the probe timeout.
func (s *Server) probe(conn net.Conn) error {
	if err := s.writeFrame(conn, protocol.EncodeHealth()); err != nil {
		return err
	}
	conn.SetReadDeadline(time.Now().Add(s.config.ProbeTimeout))
	var echo [1]byte
	if _, err := conn.Read(echo[:]); err != nil {
		return err
	}
	return nil
}
