package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/openparcel/custodymesh/internal/auth"
	"github.com/openparcel/custodymesh/internal/custody"
	"github.com/openparcel/custodymesh/internal/ledger"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Config defines the relay transport boundary.
type Config struct {
	HTTPAddr        string
	JWTSecret       string
	ShutdownTimeout time.Duration
}

// Server hosts the relay HTTP/WebSocket process.
type Server struct {
	listener        net.Listener
	httpServer      *http.Server
	registry        *Registry
	stream          ledger.Stream
	shutdownTimeout time.Duration
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ackPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type deliveryChannelPayload struct {
	DeliveryID string `json:"deliveryId"`
}

type userChannelPayload struct {
	UserID string `json:"userId"`
}

// Peer is one WebSocket connection with serialized frame writes.
type Peer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPeer(enc *json.Encoder) *Peer {
	return &Peer{enc: enc}
}

func (p *Peer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(frame)
}

// identity is the resolved connection identity. Connections without a valid
// token stay anonymous: they may watch deliveries but not user channels.
type identity struct {
	userID        string
	role          custody.Role
	authenticated bool
}

// New creates a configured relay server consuming the given event stream.
func New(cfg Config, stream ledger.Stream) (*Server, error) {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, errors.New("http address is required")
	}
	if stream == nil {
		return nil, errors.New("event stream is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	registry := NewRegistry()
	return &Server{
		listener:        listener,
		httpServer:      &http.Server{Handler: newHandler(registry, []byte(cfg.JWTSecret))},
		registry:        registry,
		stream:          stream,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Addr returns the listener address for the relay server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, cfg Config, stream ledger.Stream) error {
	srv, err := New(cfg, stream)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	return srv.Serve(ctx)
}

// Serve pumps ledger events to subscribers and serves the WebSocket endpoint
// until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()
	pumpDone := startPump(pumpCtx, s.stream, s.registry)

	log.Printf("relay server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve relay: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := handleErr(<-serveErr)
		cancelPump()
		<-pumpDone
		return err
	case err := <-serveErr:
		cancelPump()
		<-pumpDone
		return handleErr(err)
	}
}

func newHandler(registry *Registry, jwtSecret []byte) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", metrics.Handler())

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		id := identityFromRequest(conn.Request(), jwtSecret)
		handleWSConn(conn, registry, id)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

// identityFromRequest resolves the connection identity from the Authorization
// header or the token query parameter. Any parse failure leaves the
// connection anonymous rather than refusing the upgrade.
func identityFromRequest(r *http.Request, jwtSecret []byte) identity {
	if r == nil {
		return identity{}
	}
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return identity{}
	}
	claims, err := auth.ParseAccessToken(jwtSecret, token, nil)
	if err != nil {
		log.Printf("relay: websocket token rejected, connection stays anonymous: %v", err)
		return identity{}
	}
	return identity{userID: claims.UserID, role: claims.Role, authenticated: true}
}

func handleWSConn(conn *websocket.Conn, registry *Registry, id identity) {
	defer func() {
		_ = conn.Close()
	}()

	metrics.RelayConnections.Inc()
	defer metrics.RelayConnections.Dec()

	decoder := json.NewDecoder(conn)
	peer := newPeer(json.NewEncoder(conn))
	defer registry.RemoveConn(peer)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeNack(peer, "", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeNack(peer, frame.RequestID, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeNack(peer, frame.RequestID, "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "subscribe:delivery":
			handleDeliveryFrame(registry.SubscribeDelivery, peer, frame, "subscribed to delivery")
		case "unsubscribe:delivery":
			handleDeliveryFrame(registry.UnsubscribeDelivery, peer, frame, "unsubscribed from delivery")
		case "subscribe:user":
			handleUserFrame(registry.SubscribeUser, peer, frame, id, "subscribed to user events")
		case "unsubscribe:user":
			handleUserFrame(registry.UnsubscribeUser, peer, frame, id, "unsubscribed from user events")
		default:
			_ = writeNack(peer, frame.RequestID, "unsupported frame type")
		}
	}
}

func handleDeliveryFrame(apply func(*Peer, string), peer *Peer, frame wsFrame, ok string) {
	var payload deliveryChannelPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeNack(peer, frame.RequestID, "invalid delivery payload")
		return
	}
	if err := custody.ValidateDeliveryID(payload.DeliveryID); err != nil {
		_ = writeNack(peer, frame.RequestID, "deliveryId is not a valid delivery id")
		return
	}
	apply(peer, payload.DeliveryID)
	_ = writeAck(peer, frame.RequestID, ok)
}

// handleUserFrame enforces the private-channel rule: only the authenticated
// owner of the channel, or an admin, may subscribe to it.
func handleUserFrame(apply func(*Peer, string), peer *Peer, frame wsFrame, id identity, ok string) {
	var payload userChannelPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeNack(peer, frame.RequestID, "invalid user payload")
		return
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		_ = writeNack(peer, frame.RequestID, "userId is required")
		return
	}
	if !id.authenticated {
		metrics.RelaySubscriptionRejections.Inc()
		_ = writeNack(peer, frame.RequestID, "authentication required for user channels")
		return
	}
	if id.userID != userID && id.role != custody.RoleAdmin {
		metrics.RelaySubscriptionRejections.Inc()
		_ = writeNack(peer, frame.RequestID, "cannot subscribe to another user's events")
		return
	}
	apply(peer, userID)
	_ = writeAck(peer, frame.RequestID, ok)
}

func writeAck(peer *Peer, requestID, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "relay.ack",
		RequestID: requestID,
		Payload:   mustJSON(ackPayload{Success: true, Message: message}),
	})
}

func writeNack(peer *Peer, requestID, reason string) error {
	return peer.writeFrame(wsFrame{
		Type:      "relay.error",
		RequestID: requestID,
		Payload:   mustJSON(ackPayload{Success: false, Error: reason}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("relay: marshal frame payload: %v", err)
		return nil
	}
	return b
}
