package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/factory"
)

// leaveWait bounds how long a closing session waits to deregister.
const leaveWait = 2 * time.Second

type Config struct {
	Layout          observerproto.LayoutInfo
	CatalogsDigest  string
	MaterialPalette []string

	// AllowRemote serves non-loopback clients too.
	AllowRemote bool
}

type Server struct {
	engine *engine.Engine
	cfg    Config
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(e *engine.Engine, cfg Config, logger *log.Logger) *Server {
	return &Server{
		engine: e,
		cfg:    cfg,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Routes mounts the observer API on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/stations/at", s.StationAtHandler())
	mux.HandleFunc("/v1/stations/{id}/toggle", s.ToggleHandler())
	mux.HandleFunc("/v1/stations/{id}/drain", s.DrainHandler())
	mux.HandleFunc("/v1/observer", s.WSHandler())
}

func (s *Server) allowed(rw http.ResponseWriter, r *http.Request) bool {
	if s.cfg.AllowRemote || isLoopbackRemote(r.RemoteAddr) {
		return true
	}
	http.Error(rw, "forbidden", http.StatusForbidden)
	return false
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.engine.RunID(),
			Tick:            s.engine.CurrentTick(),
			Params: observerproto.RunParams{
				TickRateHz:     s.engine.Config().TickRateHz,
				CatalogsDigest: s.cfg.CatalogsDigest,
			},
			Layout:          s.cfg.Layout,
			MaterialPalette: s.cfg.MaterialPalette,
			Index:           s.engine.Index().InOrder(),
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

func (s *Server) StationAtHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		x, errX := strconv.Atoi(r.URL.Query().Get("x"))
		y, errY := strconv.Atoi(r.URL.Query().Get("y"))
		if errX != nil || errY != nil {
			http.Error(rw, "x and y must be integers", http.StatusBadRequest)
			return
		}
		resp, err := s.engine.StationAt(r.Context(), factory.Pos{X: x, Y: y})
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

func (s *Server) ToggleHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		id := r.PathValue("id")
		active, err := s.engine.Toggle(r.Context(), id)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, observerproto.AckMsg{
			Type:            "ACK",
			ProtocolVersion: observerproto.Version,
			Op:              engine.OpToggle,
			StationID:       id,
			Active:          active,
		})
	}
}

func (s *Server) DrainHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		id := r.PathValue("id")
		n, err := s.engine.Drain(r.Context(), id)
		if err != nil {
			writeError(rw, err)
			return
		}
		resp := observerproto.DrainResponse{StationID: id, Drained: n}
		if snap, err := s.engine.Snapshot(r.Context()); err == nil {
			for _, st := range snap.Stations {
				if st.ID == id {
					resp.Completed = st.Completed
					break
				}
			}
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(rw, r) {
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		tickOut := make(chan []byte, 8)
		ackOut := make(chan []byte, 16)

		joinReq := engine.ObserverJoinRequest{
			SessionID:  sid,
			TickOut:    tickOut,
			EveryTicks: sub.EveryTicks,
		}
		select {
		case s.engine.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer s.engine.LeaveObserver(sid, leaveWait)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. It is the only writer of data frames.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b = <-ackOut:
				case b = <-tickOut:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and TOGGLE requests.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var head struct {
				Type            string `json:"type"`
				ProtocolVersion string `json:"protocol_version"`
			}
			if err := json.Unmarshal(msg, &head); err != nil || head.ProtocolVersion != observerproto.Version {
				continue
			}
			switch head.Type {
			case "SUBSCRIBE":
				var sub observerproto.SubscribeMsg
				if err := json.Unmarshal(msg, &sub); err != nil {
					continue
				}
				normalizeSubscribe(&sub)
				select {
				case s.engine.ObserverSubscribe() <- engine.ObserverSubscribeRequest{SessionID: sid, EveryTicks: sub.EveryTicks}:
				default:
					// Drop updates under load; the client may resend.
				}
			case "TOGGLE":
				var tm observerproto.ToggleMsg
				if err := json.Unmarshal(msg, &tm); err != nil {
					continue
				}
				b, _ := json.Marshal(s.toggle(ctx, tm.StationID))
				select {
				case ackOut <- b:
				case <-ctx.Done():
				}
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) toggle(ctx context.Context, stationID string) observerproto.AckMsg {
	ack := observerproto.AckMsg{
		Type:            "ACK",
		ProtocolVersion: observerproto.Version,
		Op:              engine.OpToggle,
		StationID:       stationID,
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	active, err := s.engine.Toggle(ctx, stationID)
	if err != nil {
		ack.Error = err.Error()
		return ack
	}
	ack.Active = active
	return ack
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.EveryTicks < 0 {
		sub.EveryTicks = 0
	}
	if sub.EveryTicks > 3600 {
		sub.EveryTicks = 3600
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, factory.ErrUnknownStation):
		status = http.StatusNotFound
	case errors.Is(err, factory.ErrNotOutput):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
