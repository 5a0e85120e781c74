package cirrus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts and intervals for Cirrus sessions.
const (
	// DefaultRequestTimeout bounds each read of a Request.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultSendTimeout bounds each read of a Send stream.
	DefaultSendTimeout = 30 * time.Second

	// DefaultAuthTimeout bounds the LoginRequest; session setup can be slow.
	DefaultAuthTimeout = 30 * time.Second

	// DefaultPingInterval is the keep-alive PeriodicRequest interval.
	DefaultPingInterval = 30 * time.Second

	// DefaultSubscriptionTimeout is the staleness limit for subscription data.
	DefaultSubscriptionTimeout = 60 * time.Second

	// defaultHandshakeTimeout bounds the WebSocket opening handshake.
	defaultHandshakeTimeout = 15 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 10 * time.Second

	// apiPath is the Cirrus WebSocket endpoint.
	apiPath = "/cirrusAPI"
)

// State is the lifecycle state of a Session.
type State int32

// Session states.
const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Conn is the subset of *websocket.Conn a Session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Options configures a Session.
type Options struct {
	// Host is the Cirrus host, e.g. "eu.yanzi.cloud". The session connects to
	// wss://<Host>/cirrusAPI.
	Host string

	// URL overrides the endpoint derived from Host.
	URL string

	// TLSConfig carries client certificates or custom roots. Nil uses the
	// system defaults.
	TLSConfig *tls.Config

	// BearerToken, when set, is sent as an Authorization header on the
	// opening handshake.
	BearerToken string

	// Header holds extra handshake headers.
	Header http.Header

	// HandshakeTimeout bounds the opening handshake. Default: 15s.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds each read of Request. Default: 5s.
	RequestTimeout time.Duration

	// SendTimeout bounds each read of a Send stream. Default: 30s.
	SendTimeout time.Duration

	// AuthTimeout bounds the LoginRequest. Default: 30s.
	AuthTimeout time.Duration

	// PingInterval is the keep-alive interval. Default: 30s. Negative
	// disables the keep-alive loop.
	PingInterval time.Duration

	// SubscriptionTimeout is the staleness limit for subscription data.
	// Default: 60s.
	SubscriptionTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Endpoint returns the WebSocket URL the options resolve to.
func (o Options) Endpoint() (string, error) {
	if o.URL != "" {
		return o.URL, nil
	}
	if o.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrConnectionFailed)
	}
	u := url.URL{Scheme: "wss", Host: o.Host, Path: apiPath}
	return u.String(), nil
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.AuthTimeout == 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}
	if o.PingInterval == 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.SubscriptionTimeout == 0 {
		o.SubscriptionTimeout = DefaultSubscriptionTimeout
	}
	return o
}

// Stats holds operational statistics for one session.
type Stats struct {
	FramesRx      uint64
	FramesDropped uint64 // Text frames that were not a JSON object
	RequestsTx    uint64
	Timeouts      uint64 // Reads that timed out with zero matches
	KeepAlives    uint64 // Successful PeriodicRequest round trips
	Watchers      int
	State         State
	LastActivity  time.Time
}

// Session is one authenticated, multiplexed Cirrus connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Frames are written one at a time under writeMu; identifiers are
//     assigned under the same lock so they go out in increasing order.
//
// Lifecycle:
//   - Dial opens the socket and starts the receive and keep-alive loops.
//   - The first transport, protocol or keep-alive failure is stored once
//     and returned by every subsequent watcher read.
//   - Close stops both loops and closes the socket. It does not log out.
type Session struct {
	opts Options
	conn Conn

	writeMu sync.Mutex
	nextID  uint64

	state     atomic.Int32
	sessionMu sync.RWMutex
	sessionID string

	dispatcher *Dispatcher
	cell       *errCell

	// Shutdown coordination
	done    chan struct{}
	closing sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesRx      atomic.Uint64
	framesDropped atomic.Uint64
	requestsTx    atomic.Uint64
	timeouts      atomic.Uint64
	keepAlives    atomic.Uint64
	lastActivity  atomic.Int64
}

// Dial opens a WebSocket to the Cirrus endpoint and starts the session's
// background loops. The session is returned in StateAuthenticating.
//
// Parameters:
//   - ctx: Bounds the opening handshake only
//   - opts: Endpoint, TLS material and timeouts
//
// Returns:
//   - *Session: Connected session; call Close when done
//   - error: ErrConnectionFailed wrapping the dial error
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	endpoint, err := opts.Endpoint()
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		TLSClientConfig:  opts.TLSConfig,
	}

	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = append([]string(nil), v...)
	}
	if opts.BearerToken != "" {
		header.Set("Authorization", "Bearer "+opts.BearerToken)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake body is not used
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, endpoint, err)
	}

	s := newSession(conn, opts)
	s.start()
	return s, nil
}

// newSession wraps an open connection. Background loops are not started.
func newSession(conn Conn, opts Options) *Session {
	cell := newErrCell()
	s := &Session{
		opts:       opts.withDefaults(),
		conn:       conn,
		dispatcher: newDispatcher(cell),
		cell:       cell,
		done:       make(chan struct{}),
		logger:     opts.Logger,
	}
	s.state.Store(int32(StateConnecting))
	s.lastActivity.Store(time.Now().Unix())
	return s
}

func (s *Session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state.Store(int32(StateAuthenticating))

	s.wg.Add(1)
	go s.receiveLoop()

	if s.opts.PingInterval > 0 {
		s.wg.Add(1)
		go s.keepAliveLoop(ctx)
	}
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SessionID returns the id issued by the last successful Authenticate.
func (s *Session) SessionID() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessionID
}

// Err returns the session's terminal error, or nil while it is healthy.
func (s *Session) Err() error {
	return s.cell.Err()
}

// Done is closed when the session has failed or been closed.
func (s *Session) Done() <-chan struct{} {
	return s.cell.Done()
}

// Watchers returns the number of registered watchers.
func (s *Session) Watchers() int {
	return s.dispatcher.Len()
}

// Stats returns current session statistics.
func (s *Session) Stats() Stats {
	return Stats{
		FramesRx:      s.framesRx.Load(),
		FramesDropped: s.framesDropped.Load(),
		RequestsTx:    s.requestsTx.Load(),
		Timeouts:      s.timeouts.Load(),
		KeepAlives:    s.keepAlives.Load(),
		Watchers:      s.dispatcher.Len(),
		State:         s.State(),
		LastActivity:  time.Unix(s.lastActivity.Load(), 0),
	}
}

// Authenticate sends a LoginRequest with the extended auth timeout.
//
// A response without a sessionId is not an error: it returns "" and the
// caller decides what a refused login means.
//
// Parameters:
//   - ctx: Context for cancellation
//   - creds: Username/password, an existing session id, or an access token
//
// Returns:
//   - string: The server-issued session id, or "" if none was issued
//   - error: Transport failure or ErrTimeout
func (s *Session) Authenticate(ctx context.Context, creds LoginRequest) (string, error) {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticating))

	resp, err := s.Request(ctx, creds, s.opts.AuthTimeout)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	if resp.SessionID == nil || *resp.SessionID == "" {
		s.logWarn("login did not issue a session id", "response_code", resp.Code())
		return "", nil
	}

	s.sessionMu.Lock()
	s.sessionID = *resp.SessionID
	s.sessionMu.Unlock()

	s.state.CompareAndSwap(int32(StateAuthenticating), int32(StateActive))
	s.logDebug("session authenticated")
	return *resp.SessionID, nil
}

// Send stamps req with the next message identifier, transmits it and returns
// a stream of every response carrying that identifier.
//
// Each read of the stream waits at most timeout (SendTimeout if zero). A read
// that times out before any match returns ErrTimeout; after at least one
// match it returns io.EOF.
//
// The caller must Close the stream, or read it until it returns an error.
func (s *Session) Send(ctx context.Context, req Request, timeout time.Duration) (*Stream, error) {
	if timeout == 0 {
		timeout = s.opts.SendTimeout
	}
	if err := s.cell.Err(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := strconv.FormatUint(s.nextID, 10)
	s.nextID++

	data, err := Encode(req, id)
	if err != nil {
		return nil, err
	}

	// Register before writing so a fast reply is never missed.
	w := s.dispatcher.Register(FrameText)
	if err := s.writeLocked(ctx, websocket.TextMessage, data); err != nil {
		s.dispatcher.Unregister(w)
		return nil, err
	}
	s.requestsTx.Add(1)

	return newStream(s, w, timeout, matchID(id), true), nil
}

// Request sends req and returns the first matching response.
// The watcher is released before Request returns, whatever the outcome.
func (s *Session) Request(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout == 0 {
		timeout = s.opts.RequestTimeout
	}

	stream, err := s.Send(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	return stream.Next(ctx)
}

// Watch returns a stream of every inbound JSON envelope. Each read waits at
// most timeout; zero waits without limit. ErrTimeout ends the stream.
func (s *Session) Watch(timeout time.Duration) *Stream {
	w := s.dispatcher.Register(FrameText)
	return newStream(s, w, timeout, nil, false)
}

// WatchBinary returns a stream of every inbound binary frame.
func (s *Session) WatchBinary(timeout time.Duration) *BinaryStream {
	w := s.dispatcher.Register(FrameBinary)
	return &BinaryStream{session: s, watcher: w, timeout: timeout}
}

// SendJSON marshals v and writes it as a text frame, without correlation.
func (s *Session) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	return s.write(ctx, websocket.TextMessage, data)
}

// SendBinary writes data as a binary frame.
func (s *Session) SendBinary(ctx context.Context, data []byte) error {
	return s.write(ctx, websocket.BinaryMessage, data)
}

func (s *Session) write(ctx context.Context, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(ctx, messageType, data)
}

// writeLocked writes one frame. writeMu must be held.
func (s *Session) writeLocked(ctx context.Context, messageType int, data []byte) error {
	if err := s.cell.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := s.conn.WriteMessage(messageType, data); err != nil {
		err = fmt.Errorf("write: %w", err)
		s.fail(err)
		return err
	}
	return nil
}

// receiveLoop reads frames until the socket closes and fans them out.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		s.framesRx.Add(1)
		s.lastActivity.Store(time.Now().Unix())

		frame, ok := Classify(messageType, data)
		if !ok {
			s.framesDropped.Add(1)
			s.logDebug("dropping unparseable frame", "size", len(data))
			continue
		}
		s.dispatcher.Broadcast(frame)
	}
}

func (s *Session) handleReadError(err error) {
	if s.isClosed() {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logInfo("session closed by peer")
		s.finish(ErrClosed, StateClosed)
		return
	}

	s.fail(fmt.Errorf("receive: %w", err))
}

// keepAliveLoop sends a PeriodicRequest every PingInterval.
// A failed or unsuccessful ping is fatal to the session.
func (s *Session) keepAliveLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.cell.Done():
			return
		case <-ticker.C:
		}

		resp, err := s.Request(ctx, PeriodicRequest{}, s.opts.RequestTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("%w: %w", ErrKeepAliveFailed, err))
			return
		}
		if !resp.Success() {
			s.fail(fmt.Errorf("%w: responseCode %q", ErrKeepAliveFailed, resp.Code()))
			return
		}
		s.keepAlives.Add(1)
	}
}

// fail records err as the session's terminal error and tears the socket down.
func (s *Session) fail(err error) {
	s.finish(err, StateFailed)
}

func (s *Session) finish(err error, state State) {
	if !s.cell.Set(err) {
		return
	}
	s.state.Store(int32(state))
	if state == StateFailed {
		s.logError("session failed", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Close() //nolint:errcheck // socket may already be closed
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close stops the background loops and closes the socket.
// Pending and future watcher reads return ErrClosed. Close is idempotent.
func (s *Session) Close() error {
	var err error
	s.closing.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}

		// A session that already failed closed its own socket.
		healthy := s.cell.Set(ErrClosed)
		if healthy {
			s.state.Store(int32(StateClosed))
		}

		closeErr := s.conn.Close()
		s.wg.Wait()

		if healthy && closeErr != nil {
			err = fmt.Errorf("closing session: %w", closeErr)
		}
	})
	return err
}

// logDebug logs a debug message if a logger is configured.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is configured.
func (s *Session) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error if a logger is configured.
func (s *Session) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
