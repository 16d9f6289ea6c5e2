package pagefeed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FailureReason is a typed screenshot capture failure from the browser side.
type FailureReason string

const (
	ReasonNotTradingViewTab FailureReason = "not_tradingview_tab"
	ReasonNotActiveTab      FailureReason = "not_active_tab"
	ReasonPermissionNeeded  FailureReason = "permission_needed"
)

// CaptureError is returned when the bridge reports a capture failure.
type CaptureError struct {
	Reason  FailureReason
	Message string
}

func (e *CaptureError) Error() string {
	if e.Message == "" {
		return "screenshot capture failed: " + string(e.Reason)
	}
	return "screenshot capture failed (" + string(e.Reason) + "): " + e.Message
}

// EventType discriminates inbound bridge events.
type EventType string

const (
	EventDOMText  EventType = "dom_text"
	EventSettings EventType = "settings"
	EventCommand  EventType = "command"
)

// Settings is an incremental settings-change notification. Nil fields were
// not part of the change.
type Settings struct {
	WebhookURL          *string `json:"webhookUrl,omitempty"`
	EnableNotifications *bool   `json:"enableNotifications,omitempty"`
	EnableScreenshots   *bool   `json:"enableScreenshots,omitempty"`
	IncludeSymbol       *bool   `json:"includeSymbol,omitempty"`
	IncludeTime         *bool   `json:"includeTime,omitempty"`
}

// Command actions accepted from the bridge.
const (
	ActionResetPositions = "reset_positions"
	ActionSetPosition    = "set_position"
	ActionDeleteSymbol   = "delete_symbol"
	ActionListSymbols    = "list_symbols"
	ActionTestWebhook    = "test_webhook"
)

// Command is an out-of-band instruction from the settings UI.
type Command struct {
	Action   string
	Symbol   string
	Position float64
}

// Event is one inbound message from the page bridge.
type Event struct {
	Type     EventType
	Text     string
	Settings *Settings
	Command  *Command
}

// wireMessage is the bridge's JSON frame, both directions.
type wireMessage struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Settings *Settings `json:"settings,omitempty"`

	Action   string  `json:"action,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Position float64 `json:"position,omitempty"`

	// Screenshot request/response correlation
	ID        int64  `json:"id,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Data      string `json:"data,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Error     string `json:"error,omitempty"`
}

type captureResult struct {
	image []byte
	err   error
}

// Server is the websocket endpoint the browser userscript connects to. It
// relays DOM-inserted text, settings changes, and position commands inward,
// and screenshot capture requests outward. One bridge connection at a time;
// a new connection replaces the old one.
type Server struct {
	logger *zap.Logger
	addr   string
	path   string

	upgrader websocket.Upgrader
	server   *http.Server

	eventsMu     sync.Mutex
	events       chan Event
	eventsClosed bool

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan captureResult
	nextID    atomic.Int64

	msgCount uint64
}

func NewServer(logger *zap.Logger, addr, path string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		logger: logger,
		addr:   addr,
		path:   path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The bridge runs in a browser page context; Origin is the
			// TradingView page, not ours.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		events:  make(chan Event, 256),
		pending: make(map[int64]chan captureResult),
	}
}

// Events returns the inbound event stream. Closed when the server stops.
func (s *Server) Events() <-chan Event {
	return s.events
}

// Run serves the bridge endpoint until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	s.server = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("page feed listening",
			zap.String("addr", s.addr),
			zap.String("path", s.path),
		)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.server.Shutdown(shutdownCtx)
		s.closeConn()
		s.closeEvents()
		return err
	case err := <-errCh:
		s.closeEvents()
		return fmt.Errorf("page feed server: %w", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("bridge upgrade failed", zap.Error(err))
		return
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.logger.Info("replacing existing bridge connection")
		s.conn.Close()
	}
	s.conn = conn
	s.connMu.Unlock()

	s.logger.Info("page bridge connected", zap.String("remote", r.RemoteAddr))

	s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("page bridge disconnected", zap.Error(err))
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("bad bridge frame", zap.Error(err), zap.Int("len", len(data)))
			continue
		}

		atomic.AddUint64(&s.msgCount, 1)

		switch msg.Type {
		case "dom_text":
			s.emit(Event{Type: EventDOMText, Text: msg.Text})
		case "settings":
			if msg.Settings != nil {
				s.emit(Event{Type: EventSettings, Settings: msg.Settings})
			}
		case "command":
			s.emit(Event{Type: EventCommand, Command: &Command{
				Action:   msg.Action,
				Symbol:   msg.Symbol,
				Position: msg.Position,
			}})
		case "screenshot":
			s.resolveCapture(&msg)
		default:
			s.logger.Debug("unknown bridge frame type", zap.String("type", msg.Type))
		}
	}
}

func (s *Server) emit(ev Event) {
	// Shutdown doesn't wait for hijacked websocket connections, so a read
	// loop can still be delivering while Run closes the channel.
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.eventsClosed {
		return
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping bridge event", zap.String("type", string(ev.Type)))
	}
}

func (s *Server) closeEvents() {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}

// CaptureScreenshot asks the bridge to capture the current visible view and
// waits for the correlated response.
func (s *Server) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil, &CaptureError{Reason: ReasonPermissionNeeded, Message: "no page bridge connected"}
	}

	id := s.nextID.Add(1)
	ch := make(chan captureResult, 1)

	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.Send(wireMessage{Type: "capture_screenshot", ID: id}); err != nil {
		return nil, fmt.Errorf("send capture request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.image, res.err
	}
}

func (s *Server) resolveCapture(msg *wireMessage) {
	s.pendingMu.Lock()
	ch, ok := s.pending[msg.ID]
	s.pendingMu.Unlock()
	if !ok {
		s.logger.Debug("screenshot response with no pending request", zap.Int64("id", msg.ID))
		return
	}

	if !msg.Success {
		reason := FailureReason(msg.ErrorType)
		switch reason {
		case ReasonNotTradingViewTab, ReasonNotActiveTab, ReasonPermissionNeeded:
		default:
			reason = ReasonPermissionNeeded
		}
		ch <- captureResult{err: &CaptureError{Reason: reason, Message: msg.Error}}
		return
	}

	image, err := decodeImageData(msg.Data)
	if err != nil {
		ch <- captureResult{err: fmt.Errorf("decode screenshot data: %w", err)}
		return
	}
	ch <- captureResult{image: image}
}

// decodeImageData accepts either bare base64 or a data URL.
func decodeImageData(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}

// Send writes one frame to the bridge connection.
func (s *Server) Send(msg any) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("no page bridge connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// SendSymbols replies to a list_symbols command with the traded symbols and
// their current positions.
func (s *Server) SendSymbols(symbols any) error {
	return s.Send(map[string]any{"type": "symbols", "symbols": symbols})
}

// SendAck acknowledges a command.
func (s *Server) SendAck(action string, ok bool, detail string) error {
	return s.Send(map[string]any{"type": "ack", "action": action, "success": ok, "detail": detail})
}

func (s *Server) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// MessageCount returns the number of frames received from the bridge.
func (s *Server) MessageCount() uint64 {
	return atomic.LoadUint64(&s.msgCount)
}
