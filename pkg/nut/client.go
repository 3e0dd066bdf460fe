// Package nut implements a client for the Network UPS Tools line
// protocol: a single TCP connection carrying newline-delimited ASCII
// requests and responses on port 3493.
package nut

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/errkind"
)

const (
	// DefaultPort is the standard upsd listen port.
	DefaultPort = 3493

	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 5 * time.Second
	closeTimeout          = 2 * time.Second
)

// ConnectOptions configure a Client connection.
type ConnectOptions struct {
	Host     string
	Port     int
	UPSName  string
	Username string
	Password string

	// Timeout bounds the TCP connect and each awaited response line.
	// Zero means 5s.
	Timeout time.Duration
}

// Client wraps one line-oriented TCP connection to a NUT server. At most
// one command is in flight at a time; concurrent callers queue on the
// command mutex and are served FIFO.
type Client struct {
	mu   sync.Mutex // serializes commands on the shared socket
	conn net.Conn
	rd   *bufio.Reader

	readTimeout time.Duration
	closed      bool
}

// Connect opens a TCP connection to the server and authenticates when
// credentials are supplied. The connect attempt races against the
// configured timeout.
func Connect(opts ConnectOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, errkind.New(errkind.InvalidArgument, "host must not be empty")
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, errkind.Newf(errkind.InvalidArgument, "port %d out of range", opts.Port)
	}
	if !ValidUPSName(opts.UPSName) {
		return nil, errkind.Newf(errkind.InvalidArgument, "invalid ups name %q", opts.UPSName)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		if isTimeout(err) {
			return nil, errkind.Wrapf(errkind.Timeout, err, "connect to %s timed out", addr)
		}
		return nil, errkind.Wrapf(errkind.Io, err, "connect to %s", addr)
	}

	c := &Client{
		conn:        conn,
		rd:          bufio.NewReader(conn),
		readTimeout: timeout,
	}

	if err := c.authenticate(opts); err != nil {
		_ = c.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"addr": addr,
		"ups":  opts.UPSName,
	}).Debug("nut client connected")
	return c, nil
}

// authenticate issues USERNAME/PASSWORD/LOGIN when credentials are set.
// Each control command must be acknowledged with an OK line.
func (c *Client) authenticate(opts ConnectOptions) error {
	sent := false
	if opts.Username != "" {
		if err := c.control("USERNAME " + QuoteToken(opts.Username)); err != nil {
			return err
		}
		sent = true
	}
	if opts.Password != "" {
		if err := c.control("PASSWORD " + QuoteToken(opts.Password)); err != nil {
			return err
		}
		sent = true
	}
	if sent {
		if err := c.control("LOGIN " + QuoteToken(opts.UPSName)); err != nil {
			return err
		}
	}
	return nil
}

// control sends one command and expects a line beginning with OK.
func (c *Client) control(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.roundTrip(cmd)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		return errkind.Newf(errkind.Protocol, "%s: unexpected response %q", firstWord(cmd), line)
	}
	return nil
}

// ListVariables sends LIST VAR and collects every VAR line for the given
// UPS until END LIST VAR. Variables reported for a different UPS are
// skipped.
func (c *Client) ListVariables(ups string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send("LIST VAR " + QuoteToken(ups)); err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		switch {
		case strings.HasPrefix(line, "BEGIN LIST VAR"):
			continue
		case strings.HasPrefix(line, "END LIST VAR"):
			return vars, nil
		case strings.HasPrefix(line, "ERR "):
			return nil, errkind.Newf(errkind.Protocol, "LIST VAR failed: %s", line)
		case strings.HasPrefix(line, "VAR "):
			v, err := ParseVarLine(line)
			if err != nil {
				return nil, err
			}
			if v.UPS != ups {
				continue
			}
			vars[v.Name] = v.Value
		default:
			return nil, errkind.Newf(errkind.Protocol, "unexpected line in LIST VAR: %q", line)
		}
	}
}

// GetVariable fetches a single variable via GET VAR.
func (c *Client) GetVariable(ups, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.roundTrip("GET VAR " + QuoteToken(ups) + " " + QuoteToken(name))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(line, "ERR ") {
		return "", errkind.Newf(errkind.Protocol, "GET VAR %s failed: %s", name, line)
	}
	v, err := ParseVarLine(line)
	if err != nil {
		return "", err
	}
	if v.UPS != ups || v.Name != name {
		return "", errkind.Newf(errkind.Protocol, "GET VAR reply for %s/%s, wanted %s/%s", v.UPS, v.Name, ups, name)
	}
	return v.Value, nil
}

// GetVariables fetches the named variables sequentially. Parallel GETs
// are not possible on one connection; the protocol has no pipelining.
func (c *Client) GetVariables(ups string, names []string) (map[string]string, error) {
	vars := make(map[string]string, len(names))
	for _, name := range names {
		val, err := c.GetVariable(ups, name)
		if err != nil {
			return nil, err
		}
		vars[name] = val
	}
	return vars, nil
}

// Close flushes and closes the connection, waiting at most 2s for the
// graceful close before destroying the socket. Safe to call repeatedly
// and on a never-connected client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.SetDeadline(time.Now().Add(closeTimeout))
	err := c.conn.Close()
	if err != nil {
		return errkind.Wrap(errkind.Io, err, "close connection")
	}
	return nil
}

// roundTrip sends one command and reads one response line. Callers must
// hold the command mutex.
func (c *Client) roundTrip(cmd string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	return c.readLine()
}

func (c *Client) send(cmd string) error {
	if c.conn == nil || c.closed {
		return errkind.New(errkind.State, "client is not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout))
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		if isTimeout(err) {
			return errkind.Wrapf(errkind.Timeout, err, "write %s", firstWord(cmd))
		}
		return errkind.Wrapf(errkind.Io, err, "write %s", firstWord(cmd))
	}
	return nil
}

// readLine reads the next newline-terminated line under the per-read
// deadline. A trailing \r is stripped.
func (c *Client) readLine() (string, error) {
	if c.conn == nil || c.closed {
		return "", errkind.New(errkind.State, "client is not connected")
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	line, err := c.rd.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return "", errkind.Wrap(errkind.Timeout, err, "read response line")
		}
		return "", errkind.Wrap(errkind.Io, err, "read response line")
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
