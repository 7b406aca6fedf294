package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
)

// HeartbeatResponse is served at /heartbeat.
type HeartbeatResponse struct {
	Identity    string
	Version     string
	StartedAt   string
	Uptime      string
	Connections int
}

func (s *Server) serveStatus(l net.Listener) error {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/connections", s.connections)
	router.GET("/ws", s.commandWS)

	server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	s.mut.Lock()
	s.statusServer = server
	s.mut.Unlock()

	err := server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Debugf("error marshaling status response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.mut.Lock()
	startedAt := s.startedAt
	n := len(s.conns)
	s.mut.Unlock()

	s.writeJSON(w, HeartbeatResponse{
		Identity:    Identity,
		Version:     Version,
		StartedAt:   startedAt.UTC().Format(time.RFC3339),
		Uptime:      time.Since(startedAt).Round(time.Second).String(),
		Connections: n,
	})
}

func (s *Server) connections(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.mut.Lock()
	infos := make([]ConnectionInfo, 0, len(s.conns))
	for _, c := range s.conns {
		infos = append(infos, c.info())
	}
	s.mut.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	s.writeJSON(w, infos)
}

// commandWS serves the command protocol over a WebSocket. Frames are carried
// in binary messages; a frame may span several messages.
func (s *Server) commandWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.ctx.Err() != nil {
		http.Error(w, "server is stopping", http.StatusServiceUnavailable)
		return
	}
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("command WebSocket accept error: %s", err)
		return
	}
	wsConn.SetReadLimit(int64(s.maxMessageSize) + 4)

	s.wg.Add(1)
	defer s.wg.Done()
	nc := websocket.NetConn(r.Context(), wsConn, websocket.MessageBinary)
	s.serveConn(nc, r.RemoteAddr, "websocket")
}
