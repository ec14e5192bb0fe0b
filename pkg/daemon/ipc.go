package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// IPC commands. Each is one line; each reply is one JSON line.
const (
	CmdHealth  = "HEALTH"
	CmdStatus  = "STATUS"
	CmdRefresh = "REFRESH"
	CmdQuit    = "QUIT"
)

const ipcTimeout = 5 * time.Second

// ErrUnknownCommand is returned by handlers for unsupported commands.
var ErrUnknownCommand = errors.New("unknown command")

// IPCHandler answers one command with a JSON-encodable value.
type IPCHandler interface {
	HandleCommand(cmd string) (any, error)
}

// IPCHandlerFunc adapts a function to IPCHandler.
type IPCHandlerFunc func(cmd string) (any, error)

// HandleCommand calls f.
func (f IPCHandlerFunc) HandleCommand(cmd string) (any, error) { return f(cmd) }

// IPCServer listens on a Unix domain socket for line commands.
type IPCServer struct {
	socketPath string
	handler    IPCHandler
	log        *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewIPCServer creates a server for socketPath.
func NewIPCServer(socketPath string, handler IPCHandler, log *slog.Logger) *IPCServer {
	if log == nil {
		log = slog.Default()
	}
	return &IPCServer{
		socketPath: socketPath,
		handler:    handler,
		log:        log.With("component", "ipc"),
		done:       make(chan struct{}),
	}
}

// Start removes any stale socket, listens with owner-only permissions and
// accepts connections in the background.
func (s *IPCServer) Start() error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("daemon: chmod socket: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, waits for open connections and removes the
// socket file. It is safe to call more than once.
func (s *IPCServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *IPCServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log.Debug("accept failed", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *IPCServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	cmd := ParseCommand(scanner.Text())
	if cmd == "" {
		return
	}

	reply, err := s.handler.HandleCommand(cmd)
	if err != nil {
		reply = map[string]string{"error": err.Error()}
	}
	line, err := json.Marshal(reply)
	if err != nil {
		line, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	fmt.Fprintf(conn, "%s\n", line)
}

// ParseCommand normalizes a command line to its upper-case verb.
func ParseCommand(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// IPCClient sends commands to a running daemon.
type IPCClient struct {
	socketPath string
}

// NewIPCClient creates a client for the daemon at socketPath.
func NewIPCClient(socketPath string) *IPCClient {
	return &IPCClient{socketPath: socketPath}
}

// Send opens a connection, sends cmd and returns the raw JSON reply. A reply
// of the form {"error": ...} is returned as an error.
func (c *IPCClient) Send(ctx context.Context, cmd string) (json.RawMessage, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: connect: %w", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(ipcTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return nil, fmt.Errorf("daemon: send %s: %w", cmd, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("daemon: read reply: %w", err)
		}
		return nil, errors.New("daemon: empty reply")
	}
	reply := json.RawMessage(append([]byte(nil), scanner.Bytes()...))

	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(reply, &e) == nil && e.Error != "" {
		return reply, fmt.Errorf("daemon: %s: %s", cmd, e.Error)
	}
	return reply, nil
}
