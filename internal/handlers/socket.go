package handlers

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roadwatch/internal/auth"
	"roadwatch/internal/engine"
	"roadwatch/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type SocketHandler struct {
	engine *engine.Engine
	auth   *auth.Authenticator
}

func NewSocketHandler(eng *engine.Engine, authn *auth.Authenticator) *SocketHandler {
	return &SocketHandler{engine: eng, auth: authn}
}

func (h *SocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.serve)
}

func (h *SocketHandler) serve(w http.ResponseWriter, r *http.Request) {
	claim, err := h.auth.Identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	claim.Address = remoteHost(r)

	// browsers pass the token as a subprotocol, so echo the first one back
	var rspHdr http.Header
	if prots := websocket.Subprotocols(r); len(prots) > 0 {
		rspHdr = http.Header{}
		rspHdr.Set("Sec-WebSocket-Protocol", prots[0])
	}

	conn, err := upgrader.Upgrade(w, r, rspHdr)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Printf("[socket] upgrade failed: %v", err)
		return
	}

	handle := uuid.NewString()
	id, events := h.engine.Connect(handle, claim)
	p := &peer{
		engine: h.engine,
		conn:   conn,
		handle: handle,
		userID: id.UserID,
		events: events,
	}
	p.run()
}

// peer pumps one socket: the read side decodes intents into the engine and
// the write side drains the connection's outbound queue.
type peer struct {
	engine *engine.Engine
	conn   *websocket.Conn
	handle string
	userID string
	events <-chan engine.Event
}

func (p *peer) run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop()
	}()

	p.readLoop()
	// Closes the outbound queue, which ends writeLoop.
	p.engine.Disconnect(p.handle)
	wg.Wait()
}

func (p *peer) readLoop() {
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error { p.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[socket] read failed user=%s handle=%s err=%v", p.userID, p.handle, err)
			}
			return
		}

		op, in, err := protocol.Decode(msg)
		if err != nil {
			if errors.Is(p.engine.Reply(p.handle, protocol.DecodeFailure(op, err)), engine.ErrConnectionGone) {
				return
			}
			continue
		}
		if err := p.engine.Dispatch(p.handle, in); errors.Is(err, engine.ErrConnectionGone) {
			return
		}
	}
}

func (p *peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-p.events:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// queue closed: disconnected, superseded or shutting down
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			b, err := protocol.Encode(ev)
			if err != nil {
				log.Printf("[socket] encode %s failed: %v", ev.Name(), err)
				continue
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remoteHost strips the port from the address RealIP left on the request.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// IsWebSocket reports whether r asks for a protocol upgrade.
func IsWebSocket(r *http.Request) bool {
	contains := func(key, val string) bool {
		for _, v := range strings.Split(r.Header.Get(key), ",") {
			if val == strings.ToLower(strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	}
	return contains("Connection", "upgrade") && contains("Upgrade", "websocket")
}
