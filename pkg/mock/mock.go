package mock

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (
	defaultListenAddr = "127.0.0.1:0"
	requestTimeout    = 5 * time.Second

	cmdWeightImmediately = "SI"

	// ReplyUnstable is sent by the device if it could not settle
	ReplyUnstable = "ES"
)

// Mock denotes a simulated network scale answering MT-SICS weight queries
type Mock struct {
	listenAddr string
	listener   net.Listener

	mu       sync.Mutex
	current  string
	script   []string
	silent   bool
	requests int

	timer *stopwatch.Stopwatch

	logger   scale.Logger
	doneChan chan struct{}
	wg       sync.WaitGroup
}

// New instantiates a new Mock scale and starts serving on a local port
func New(options ...func(*Mock)) (*Mock, error) {

	// Initialize a new instance of a Mock scale
	m := &Mock{
		listenAddr: defaultListenAddr,
		current:    FormatWeight(0),
		doneChan:   make(chan struct{}),
		logger:     &scale.NullLogger{},
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(m)
	}

	listener, err := net.Listen("tcp", m.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", m.listenAddr, err)
	}
	m.listener = listener
	m.timer = stopwatch.Start(0)

	m.wg.Add(1)
	go m.serve()

	return m, nil
}

// WithListenAddr sets the address to listen on
func WithListenAddr(addr string) func(*Mock) {
	return func(m *Mock) {
		m.listenAddr = addr
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Mock) {
	return func(m *Mock) {
		m.logger = logger
	}
}

// FormatWeight renders a weight (in kg) the way the device reports it
func FormatWeight(kg float64) string {
	return fmt.Sprintf("ST,%+.3f%s", kg, scale.UnitKilograms)
}

// Addr returns the address the Mock scale is listening on
func (m *Mock) Addr() string {
	return m.listener.Addr().String()
}

// Host returns the host part of the listening address
func (m *Mock) Host() string {
	host, _, _ := net.SplitHostPort(m.Addr())
	return host
}

// Port returns the port part of the listening address
func (m *Mock) Port() int {
	_, port, _ := net.SplitHostPort(m.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// SetWeight sets the weight (in kg) reported once the script is exhausted
func (m *Mock) SetWeight(kg float64) {
	m.SetReply(FormatWeight(kg))
}

// SetUnstable makes the scale report a stabilization error
func (m *Mock) SetUnstable() {
	m.SetReply(ReplyUnstable)
}

// SetReply sets a raw reply sent once the script is exhausted
func (m *Mock) SetReply(reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = reply
}

// SetSilent toggles whether the scale accepts connections without ever replying
func (m *Mock) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.silent = silent
}

// Enqueue appends raw replies, consumed one per request before falling back to
// the current reply
func (m *Mock) Enqueue(replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.script = append(m.script, replies...)
}

// Pending returns the number of scripted replies not yet consumed
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.script)
}

// Requests returns the number of weight queries received so far
func (m *Mock) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.requests
}

// Uptime returns the time since the Mock scale started serving
func (m *Mock) Uptime() time.Duration {
	return m.timer.ElapsedTime()
}

// Close terminates the Mock scale, dropping all open connections
func (m *Mock) Close() error {
	close(m.doneChan)
	m.timer.Stop()

	err := m.listener.Close()
	m.wg.Wait()

	return err
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mock) serve() {
	defer m.wg.Done()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.doneChan:
			default:
				m.logger.Warnf("failed to accept connection: %s", err)
			}
			return
		}

		m.wg.Add(1)
		go m.handle(conn)
	}
}

func (m *Mock) handle(conn net.Conn) {
	defer m.wg.Done()
	defer conn.Close()

	// Ensure blocked handlers are released upon Close()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-m.doneChan:
			_ = conn.SetDeadline(time.Unix(1, 0))
		case <-finished:
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
		return
	}

	req, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		m.logger.Debugf("failed to read request from %s: %s", conn.RemoteAddr(), err)
		return
	}

	reply, silent := m.nextReply(strings.TrimSpace(req))
	if silent {
		m.logger.Debugf("staying silent towards %s", conn.RemoteAddr())

		// Wait for the client to give up (or the Mock to be closed)
		_ = conn.SetReadDeadline(time.Time{})
		_, _ = conn.Read(make([]byte, 1))
		return
	}

	if _, err := conn.Write([]byte(reply + "\r\n")); err != nil && !errors.Is(err, net.ErrClosed) {
		m.logger.Debugf("failed to write reply to %s: %s", conn.RemoteAddr(), err)
	}
}

func (m *Mock) nextReply(req string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unknown commands are answered with a syntax error, as the real device does
	if req != cmdWeightImmediately {
		return ReplyUnstable, false
	}
	m.requests++

	if m.silent {
		return "", true
	}

	if len(m.script) > 0 {
		reply := m.script[0]
		m.script = m.script[1:]
		return reply, false
	}

	return m.current, false
}
