package ftp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitftp/gitftp/internal/logging"
	"github.com/gitftp/gitftp/internal/metrics"
	"github.com/gitftp/gitftp/internal/session"
)

const (
	dataAcceptTimeout = 30 * time.Second
	dataDialTimeout   = 10 * time.Second
)

// conn is one control connection. Commands are processed strictly one
// at a time: a reply completes before the next line is read.
type conn struct {
	server *Server
	rwc    net.Conn
	r      *bufio.Reader
	sess   *session.Session

	lastCode int
	closing  bool

	// Data channel negotiation, consumed by the next transfer verb.
	pasv     net.Listener
	portAddr string
}

func newConn(s *Server, rwc net.Conn) *conn {
	return &conn{
		server: s,
		rwc:    rwc,
		r:      bufio.NewReader(rwc),
		sess:   session.New(s.store, s.connector),
	}
}

func (c *conn) serve() {
	ctx := context.Background()
	c.Reply(220, "gitftp ready.")

	for !c.closing {
		if err := c.rwc.SetReadDeadline(time.Now().Add(c.server.cfg.ControlIdleTimeout)); err != nil {
			return
		}
		line, err := c.r.ReadString('\n')
		if err != nil {
			return
		}

		verb, arg := parseCommand(line)
		if verb == "" {
			c.Reply(500, "Syntax error.")
			continue
		}
		logging.Debug("command",
			zap.String("verb", verb),
			zap.String("remote", c.rwc.RemoteAddr().String()))
		c.dispatch(ctx, verb, arg)
	}
}

func (c *conn) cleanup() {
	if c.pasv != nil {
		c.pasv.Close()
		c.pasv = nil
	}
	c.sess.Close()
	c.rwc.Close()
}

func parseCommand(line string) (verb, arg string) {
	line = strings.TrimRight(line, "\r\n")
	verb, arg, _ = strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}

func (c *conn) dispatch(ctx context.Context, verb, arg string) {
	switch verb {
	case "USER":
		c.finishLogin(c.sess.HandleUser(ctx, arg))
	case "PASS":
		c.finishLogin(c.sess.HandlePass(ctx, arg))
	case "QUIT":
		c.Reply(221, "Goodbye.")
		c.closing = true
	case "SYST":
		c.Reply(215, "UNIX Type: L8")
	case "TYPE":
		// Bodies are moved whole either way; both modes are accepted.
		c.Reply(200, "Type set to %s.", arg)
	case "NOOP":
		c.Reply(200, "NOOP ok.")
	case "FEAT":
		c.writeRaw("211-Features:\r\n MLSD\r\n UTF8\r\n EPSV\r\n PASV\r\n211 End\r\n")
	case "OPTS":
		if strings.EqualFold(arg, "UTF8 ON") {
			c.Reply(200, "UTF8 mode enabled.")
		} else {
			c.Reply(501, "Option not understood.")
		}
	case "PASV":
		c.handlePasv()
	case "EPSV":
		c.handleEpsv()
	case "PORT":
		c.handlePort(arg)
	default:
		h, ok := c.server.table[verb]
		if !ok {
			c.Reply(502, "Command not implemented.")
			return
		}
		h(ctx, c, arg)
		metrics.RecordCommand(verb, c.lastCode < 400)
	}
}

func (c *conn) finishLogin(res session.Result) {
	c.Reply(res.Code, "%s", res.Message)
	if res.Fatal {
		c.closing = true
	}
}

// Session implements handler.Conn.
func (c *conn) Session() *session.Session {
	return c.sess
}

// Reply implements handler.Conn.
func (c *conn) Reply(code int, format string, args ...any) {
	c.lastCode = code
	c.writeRaw(fmt.Sprintf("%d %s\r\n", code, fmt.Sprintf(format, args...)))
}

func (c *conn) writeRaw(s string) {
	if _, err := c.rwc.Write([]byte(s)); err != nil {
		c.closing = true
	}
}

// OpenData implements handler.Conn: it accepts the pending passive
// connection or dials the PORT target. Each negotiation serves exactly
// one transfer.
func (c *conn) OpenData(ctx context.Context) (net.Conn, error) {
	if c.pasv != nil {
		ln := c.pasv
		c.pasv = nil
		defer ln.Close()

		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(dataAcceptTimeout))
		}
		return ln.Accept()
	}

	if c.portAddr != "" {
		addr := c.portAddr
		c.portAddr = ""
		d := net.Dialer{Timeout: dataDialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}

	return nil, fmt.Errorf("no data connection negotiated")
}

func (c *conn) handlePasv() {
	if c.pasv != nil {
		c.pasv.Close()
		c.pasv = nil
	}

	ip := c.passiveIP()
	if ip == nil {
		c.Reply(425, "Passive mode unavailable; use EPSV.")
		return
	}

	ln, err := c.server.listenPassive()
	if err != nil {
		c.Reply(425, "Can't open data connection.")
		return
	}
	c.pasv = ln
	c.portAddr = ""

	port := ln.Addr().(*net.TCPAddr).Port
	c.Reply(227, "Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], port>>8, port&0xff)
}

func (c *conn) handleEpsv() {
	if c.pasv != nil {
		c.pasv.Close()
		c.pasv = nil
	}

	ln, err := c.server.listenPassive()
	if err != nil {
		c.Reply(425, "Can't open data connection.")
		return
	}
	c.pasv = ln
	c.portAddr = ""

	port := ln.Addr().(*net.TCPAddr).Port
	c.Reply(229, "Entering Extended Passive Mode (|||%d|).", port)
}

// passiveIP returns the IPv4 address advertised in PASV replies.
func (c *conn) passiveIP() net.IP {
	if host := c.server.cfg.AdvertisedHost; host != "" {
		if ip := net.ParseIP(host); ip != nil {
			return ip.To4()
		}
	}
	if addr, ok := c.rwc.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.To4()
	}
	return nil
}

func (c *conn) handlePort(arg string) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		c.Reply(501, "Bad PORT argument.")
		return
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			c.Reply(501, "Bad PORT argument.")
			return
		}
		nums[i] = n
	}

	c.portAddr = fmt.Sprintf("%d.%d.%d.%d:%d",
		nums[0], nums[1], nums[2], nums[3], nums[4]<<8|nums[5])
	if c.pasv != nil {
		c.pasv.Close()
		c.pasv = nil
	}
	c.Reply(200, "PORT command successful.")
}
