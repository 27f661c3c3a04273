package ftp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gitftp/gitftp/internal/config"
	"github.com/gitftp/gitftp/internal/credentials"
	"github.com/gitftp/gitftp/internal/remote"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line, verb, arg string
	}{
		{"PWD\r\n", "PWD", ""},
		{"user alice\r\n", "USER", "alice"},
		{"STOR dir/file name.txt\r\n", "STOR", "dir/file name.txt"},
		{"TYPE I\n", "TYPE", "I"},
		{"  \r\n", "", ""},
		{"\r\n", "", ""},
	}
	for _, tt := range tests {
		verb, arg := parseCommand(tt.line)
		if verb != tt.verb || arg != tt.arg {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)",
				tt.line, verb, arg, tt.verb, tt.arg)
		}
	}
}

// The fakes below drive a real server over loopback TCP.

type memStore map[string]map[string]string

func (s memStore) Aliases(account string) ([]string, error) {
	var aliases []string
	for alias := range s[account] {
		aliases = append(aliases, alias)
	}
	return aliases, nil
}

func (s memStore) Resolve(account, alias string) (string, error) {
	token, ok := s[account][alias]
	if !ok {
		return "", credentials.ErrAliasNotFound
	}
	return token, nil
}

type stubClient struct {
	identity string
	repos    []string
	files    map[string][]byte // "repo/path" keyed
	stored   map[string][]byte
}

func (c *stubClient) Identity() string { return c.identity }

func (c *stubClient) ListRepositories(context.Context) ([]string, error) {
	return c.repos, nil
}

func (c *stubClient) GetEntry(ctx context.Context, repo, path string) (remote.Entry, error) {
	if path == "" {
		return remote.Entry{Name: repo, Kind: remote.KindDir}, nil
	}
	if content, ok := c.files[repo+"/"+path]; ok {
		return remote.Entry{Name: path, Path: path, Kind: remote.KindFile,
			Size: int64(len(content)), SHA: "sha-1"}, nil
	}
	return remote.Entry{}, &remote.NotFoundError{Repo: repo, Path: path}
}

func (c *stubClient) ListEntries(ctx context.Context, repo, path string) ([]remote.Entry, error) {
	var entries []remote.Entry
	prefix := repo + "/"
	for key, content := range c.files {
		if strings.HasPrefix(key, prefix) {
			name := strings.TrimPrefix(key, prefix)
			entries = append(entries, remote.Entry{Name: name, Path: name,
				Kind: remote.KindFile, Size: int64(len(content)), SHA: "sha-1"})
		}
	}
	return entries, nil
}

func (c *stubClient) ReadFile(ctx context.Context, repo, path string) (remote.Entry, []byte, error) {
	entry, err := c.GetEntry(ctx, repo, path)
	if err != nil {
		return remote.Entry{}, nil, err
	}
	return entry, c.files[repo+"/"+path], nil
}

func (c *stubClient) CreateFile(ctx context.Context, repo, path string, content []byte, message string) error {
	if c.stored == nil {
		c.stored = map[string][]byte{}
	}
	c.stored[repo+"/"+path] = content
	return nil
}

func (c *stubClient) UpdateFile(ctx context.Context, repo, path string, content []byte, sha, message string) error {
	return c.CreateFile(ctx, repo, path, content, "")
}

func (c *stubClient) DeleteFile(context.Context, string, string, string, string) error {
	return nil
}

type stubConnector struct{ client *stubClient }

func (c *stubConnector) Connect(ctx context.Context, token string) (remote.Client, error) {
	if token != "tok-good" {
		return nil, &remote.AuthError{}
	}
	return c.client, nil
}

func testConfig() *config.Config {
	return &config.Config{
		PassivePortMin:      0, // ephemeral port per data listener
		PassivePortMax:      0,
		MaxConnections:      8,
		MaxConnectionsPerIP: 8,
		ControlIdleTimeout:  5 * time.Second,
		StorIdleTimeout:     time.Second,
	}
}

func startServer(t *testing.T, cfg *config.Config, client *stubClient) net.Addr {
	t.Helper()
	store := memStore{"alice": {"default": "tok-good"}, "mallory": {"default": "tok-bad"}}
	srv := NewServer(cfg, store, &stubConnector{client: client})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr()
}

type ftpConn struct {
	t *testing.T
	c net.Conn
	r *bufio.Reader
}

func dialFTP(t *testing.T, addr net.Addr) *ftpConn {
	t.Helper()
	c, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	fc := &ftpConn{t: t, c: c, r: bufio.NewReader(c)}
	if line := fc.readLine(); !strings.HasPrefix(line, "220 ") {
		t.Fatalf("greeting = %q", line)
	}
	return fc
}

func (f *ftpConn) readLine() string {
	f.t.Helper()
	f.c.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := f.r.ReadString('\n')
	if err != nil {
		f.t.Fatalf("read reply: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (f *ftpConn) cmd(format string, args ...any) string {
	f.t.Helper()
	fmt.Fprintf(f.c, format+"\r\n", args...)
	return f.readLine()
}

func (f *ftpConn) login(user, pass string) {
	f.t.Helper()
	if line := f.cmd("USER %s", user); !strings.HasPrefix(line, "331 ") {
		f.t.Fatalf("USER = %q", line)
	}
	if line := f.cmd("PASS %s", pass); !strings.HasPrefix(line, "230 ") {
		f.t.Fatalf("PASS = %q", line)
	}
}

var pasvReply = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// pasv negotiates passive mode and returns the data address.
func (f *ftpConn) pasv() string {
	f.t.Helper()
	line := f.cmd("PASV")
	m := pasvReply.FindStringSubmatch(line)
	if m == nil {
		f.t.Fatalf("PASV = %q", line)
	}
	var n [6]int
	for i := range n {
		n[i], _ = strconv.Atoi(m[i+1])
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d", n[0], n[1], n[2], n[3], n[4]<<8|n[5])
}

func TestControlSession(t *testing.T) {
	client := &stubClient{identity: "alice-gh", repos: []string{"repo1"}}
	addr := startServer(t, testConfig(), client)
	fc := dialFTP(t, addr)

	if line := fc.cmd("SYST"); line != "215 UNIX Type: L8" {
		t.Errorf("SYST = %q", line)
	}
	if line := fc.cmd("NOOP"); !strings.HasPrefix(line, "200 ") {
		t.Errorf("NOOP = %q", line)
	}
	if line := fc.cmd("XYZZY"); !strings.HasPrefix(line, "502 ") {
		t.Errorf("unknown verb = %q", line)
	}
	if line := fc.cmd("LIST"); !strings.HasPrefix(line, "530 ") {
		t.Errorf("LIST before login = %q", line)
	}

	fc.login("alice", "")
	if line := fc.cmd("PWD"); !strings.Contains(line, `"/"`) {
		t.Errorf("PWD = %q", line)
	}
	if line := fc.cmd("CWD repo1"); !strings.HasPrefix(line, "250 ") {
		t.Errorf("CWD = %q", line)
	}
	if line := fc.cmd("PWD"); !strings.Contains(line, `"/repo1"`) {
		t.Errorf("PWD after CWD = %q", line)
	}
	if line := fc.cmd("QUIT"); !strings.HasPrefix(line, "221 ") {
		t.Errorf("QUIT = %q", line)
	}
}

func TestFatalLoginClosesConnection(t *testing.T) {
	addr := startServer(t, testConfig(), &stubClient{identity: "x"})
	fc := dialFTP(t, addr)

	if line := fc.cmd("USER nobody"); !strings.HasPrefix(line, "530 ") {
		t.Fatalf("USER nobody = %q", line)
	}

	fc.c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := fc.r.ReadString('\n'); err == nil {
		t.Error("connection still open after fatal 530")
	}
}

func TestRejectedTokenClosesConnection(t *testing.T) {
	addr := startServer(t, testConfig(), &stubClient{identity: "x"})
	fc := dialFTP(t, addr)

	if line := fc.cmd("USER mallory"); !strings.HasPrefix(line, "331 ") {
		t.Fatalf("USER = %q", line)
	}
	if line := fc.cmd("PASS"); !strings.HasPrefix(line, "530 ") {
		t.Fatalf("PASS with rejected token = %q", line)
	}
	fc.c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := fc.r.ReadString('\n'); err == nil {
		t.Error("connection still open after rejected token")
	}
}

func TestPassiveListTransfer(t *testing.T) {
	client := &stubClient{
		identity: "alice-gh",
		repos:    []string{"repo1"},
		files:    map[string][]byte{"repo1/hello.txt": []byte("hi")},
	}
	addr := startServer(t, testConfig(), client)
	fc := dialFTP(t, addr)
	fc.login("alice", "default")

	dataAddr := fc.pasv()
	if line := fc.cmd("LIST /repo1"); !strings.HasPrefix(line, "150 ") {
		t.Fatalf("LIST = %q", line)
	}

	dc, err := net.Dial("tcp", dataAddr)
	if err != nil {
		t.Fatalf("dial data %s: %v", dataAddr, err)
	}
	var listing strings.Builder
	buf := make([]byte, 4096)
	dc.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		n, err := dc.Read(buf)
		listing.Write(buf[:n])
		if err != nil {
			break
		}
	}
	dc.Close()

	if line := fc.readLine(); !strings.HasPrefix(line, "226 ") {
		t.Errorf("after LIST transfer = %q", line)
	}
	if !strings.Contains(listing.String(), "hello.txt") {
		t.Errorf("listing = %q, want hello.txt", listing.String())
	}
}

func TestPassiveStorTransfer(t *testing.T) {
	client := &stubClient{identity: "alice-gh", repos: []string{"repo1"}}
	addr := startServer(t, testConfig(), client)
	fc := dialFTP(t, addr)
	fc.login("alice", "")

	dataAddr := fc.pasv()
	if line := fc.cmd("STOR /repo1/up.txt"); !strings.HasPrefix(line, "150 ") {
		t.Fatalf("STOR = %q", line)
	}

	dc, err := net.Dial("tcp", dataAddr)
	if err != nil {
		t.Fatalf("dial data %s: %v", dataAddr, err)
	}
	if _, err := dc.Write([]byte("uploaded")); err != nil {
		t.Fatalf("write data: %v", err)
	}
	dc.Close()

	if line := fc.readLine(); !strings.HasPrefix(line, "226 ") {
		t.Errorf("after STOR transfer = %q", line)
	}
	if got := string(client.stored["repo1/up.txt"]); got != "uploaded" {
		t.Errorf("stored content = %q, want %q", got, "uploaded")
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	addr := startServer(t, cfg, &stubClient{identity: "x"})

	first := dialFTP(t, addr)
	defer first.c.Close()

	second, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(second).ReadString('\n')
	if err != nil {
		t.Fatalf("read on second connection: %v", err)
	}
	if !strings.HasPrefix(line, "421 ") {
		t.Errorf("second connection greeting = %q, want 421", line)
	}
}

func TestEpsvNegotiation(t *testing.T) {
	addr := startServer(t, testConfig(), &stubClient{identity: "alice-gh", repos: []string{"r"}})
	fc := dialFTP(t, addr)
	fc.login("alice", "")

	line := fc.cmd("EPSV")
	if !strings.HasPrefix(line, "229 ") || !strings.Contains(line, "(|||") {
		t.Errorf("EPSV = %q", line)
	}
}
