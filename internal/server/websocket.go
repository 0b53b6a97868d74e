package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/meshcodec"
	"github.com/chazu/sponge/pkg/presets"
	"github.com/chazu/sponge/pkg/regen"
)

const (
	// ProtocolVersion1 is the only websocket subprotocol served.
	ProtocolVersion1 = "sponge-v1"

	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second

	sendBuffer = 16
	maxMessage = 64 * 1024

	// Encoding names the payload format of mesh replies.
	Encoding = "spng+gzip+base64"
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorMessage is sent when a request cannot be served.
type ErrorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RegenerateRequest is the data of a "regenerate" message. A missing box
// means the default box.
type RegenerateRequest struct {
	Rule        string       `json:"rule"`
	Depth       int          `json:"depth"`
	Invert      bool         `json:"invert"`
	Randomize   bool         `json:"randomize"`
	Anisotropic bool         `json:"anisotropic"`
	Box         *fractal.Box `json:"box,omitempty"`
}

// MeshReply is the data of a "mesh" message.
type MeshReply struct {
	Rule       string  `json:"rule"`
	Depth      int     `json:"depth"`
	Boxes      int     `json:"boxes"`
	Vertices   int     `json:"vertices"`
	Triangles  int     `json:"triangles"`
	ElapsedMS  float64 `json:"elapsed_ms"`
	Generation uint64  `json:"generation"`
	Encoding   string  `json:"encoding"`
	Payload    string  `json:"payload"`
}

type connection struct {
	conn    *websocket.Conn
	out     chan []byte
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	remote  string
	version string
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	requested := r.Header.Get("Sec-WebSocket-Protocol")
	version := negotiateVersion(requested)
	if version == "" {
		log.Printf("server: websocket version negotiation failed: requested=%s", requested)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}
	var header http.Header
	if requested != "" {
		header = http.Header{}
		header.Set("Sec-WebSocket-Protocol", version)
	}

	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}
	ws.SetReadLimit(maxMessage)

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		conn:    ws,
		out:     make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		remote:  clientIP(r),
		version: version,
	}
	log.Printf("server: websocket connected: remote=%s version=%s", c.remote, version)

	go c.writePump()
	go c.readPump(s)
}

// negotiateVersion picks the first supported protocol from a comma
// separated list. An empty list means version 1.
func negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}
	for _, v := range strings.Split(requested, ",") {
		if strings.TrimSpace(v) == ProtocolVersion1 {
			return ProtocolVersion1
		}
	}
	return ""
}

func (c *connection) readPump(s *Server) {
	defer func() {
		c.cancel()
		close(c.done)
		if err := c.conn.Close(); err != nil {
			log.Printf("server: close connection: %v", err)
		}
		log.Printf("server: websocket disconnected: remote=%s", c.remote)
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("server: set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("server: websocket read: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "Invalid message format", "InvalidMessageFormat")
			continue
		}
		s.handleMessage(c, &msg)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.out:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("server: websocket write: %v", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// send queues v for writing. Frames for a closed or saturated connection
// are dropped.
func (c *connection) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("server: marshal reply: %v", err)
		return
	}
	select {
	case c.out <- b:
	case <-c.done:
	default:
		log.Printf("server: send buffer full for %s, dropping frame", c.remote)
	}
}

func (c *connection) sendError(id, msg, code string) {
	c.send(ErrorMessage{Type: "error", ID: id, Error: msg, Message: msg, Code: code})
}

func (s *Server) handleMessage(c *connection, msg *Message) {
	switch msg.Type {
	case "ping":
		c.send(Message{Type: "pong", ID: msg.ID})
	case "regenerate":
		s.handleRegenerate(c, msg)
	default:
		c.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
	}
}

// handleRegenerate validates the request on the read goroutine and runs the
// generation on its own goroutine so the connection keeps reading. Requests
// arriving while any generation runs are answered with "rejected".
func (s *Server) handleRegenerate(c *connection, msg *Message) {
	var req RegenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.sendError(msg.ID, "Invalid regenerate request", "InvalidMessageFormat")
		return
	}
	if req.Rule == "" {
		req.Rule = "menger"
	}
	cfg, box, err := s.buildRequest(req)
	if err != nil {
		code := "InvalidConfig"
		if errors.Is(err, presets.ErrUnknownRule) {
			code = "UnknownRule"
		}
		c.sendError(msg.ID, err.Error(), code)
		return
	}

	go func() {
		gm, ok, err := s.regen.Regenerate(c.ctx, cfg, box)
		if !ok {
			log.Printf("server: regenerate %s rejected for %s: generation in progress", msg.ID, c.remote)
			c.send(Message{Type: "rejected", ID: msg.ID})
			return
		}
		if err != nil {
			log.Printf("server: regenerate %s failed: %v", msg.ID, err)
			c.sendError(msg.ID, err.Error(), "GenerationFailed")
			return
		}
		reply, err := meshReply(gm)
		if err != nil {
			c.sendError(msg.ID, err.Error(), "EncodingFailed")
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			c.sendError(msg.ID, err.Error(), "EncodingFailed")
			return
		}
		log.Printf("server: generation %d (%s depth %d): %d boxes in %s",
			gm.Generation, reply.Rule, reply.Depth, reply.Boxes, gm.Elapsed)
		c.send(Message{Type: "mesh", ID: msg.ID, Data: data})
	}()
}

func (s *Server) buildRequest(req RegenerateRequest) (fractal.Config, fractal.Box, error) {
	if req.Depth > s.cfg.Generator.MaxDepth {
		return fractal.Config{}, fractal.Box{}, fmt.Errorf("depth %d exceeds maximum %d: %w",
			req.Depth, s.cfg.Generator.MaxDepth, fractal.ErrInvalidConfig)
	}
	rules, err := s.rules.Get(req.Rule)
	if err != nil {
		return fractal.Config{}, fractal.Box{}, err
	}
	var opts []fractal.Option
	if req.Anisotropic {
		opts = append(opts, fractal.WithAnisotropic())
	}
	cfg, err := regen.Configure(rules, req.Depth, req.Invert, req.Randomize, opts...)
	if err != nil {
		return fractal.Config{}, fractal.Box{}, err
	}
	// Randomized runs are bounded by the same count.
	if n := fractal.LeafCount(cfg); n > s.cfg.Generator.MaxBoxes {
		return fractal.Config{}, fractal.Box{}, fmt.Errorf("%s depth %d yields up to %d boxes, limit is %d: %w",
			rules.Name, req.Depth, n, s.cfg.Generator.MaxBoxes, fractal.ErrInvalidConfig)
	}
	box := fractal.DefaultBox()
	if req.Box != nil {
		if err := req.Box.Validate(); err != nil {
			return fractal.Config{}, fractal.Box{}, err
		}
		box = *req.Box
	}
	return cfg, box, nil
}

func meshReply(gm *regen.GeneratedMesh) (MeshReply, error) {
	payload, err := meshcodec.Encode(gm.Mesh)
	if err != nil {
		return MeshReply{}, err
	}
	return MeshReply{
		Rule:       gm.Config.Rules.Name,
		Depth:      gm.Config.Depth,
		Boxes:      len(gm.Boxes),
		Vertices:   gm.Mesh.VertexCount(),
		Triangles:  gm.Mesh.TriangleCount(),
		ElapsedMS:  float64(gm.Elapsed.Microseconds()) / 1000,
		Generation: gm.Generation,
		Encoding:   Encoding,
		Payload:    base64.StdEncoding.EncodeToString(payload),
	}, nil
}
