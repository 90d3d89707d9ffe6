package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/retry"
)

// Credentials authenticates an FTP control connection.
type Credentials struct {
	User     string
	Password string
}

// Client exposes the list/upload/download/delete/rename/mkdir/stat
// surface of spec §4.13 over a pooled set of control connections.
type Client struct {
	pool       *Pool
	retryMgr   *retry.Manager
	compressed func(name string) bool
}

// NewClient constructs a Client. creds is captured by the pool's login
// callback so every dialed connection authenticates the same way.
func NewClient(creds Credentials, maxPoolSize int, idleTTL time.Duration, compressibleExt func(string) bool) *Client {
	c := &Client{retryMgr: retry.New(retry.Config{}), compressed: compressibleExt}
	c.pool = NewPool(nil, maxPoolSize, idleTTL, func(t *textproto.Conn) (Capabilities, error) {
		return login(t, creds)
	})
	return c
}

func login(t *textproto.Conn, creds Credentials) (Capabilities, error) {
	if _, _, err := t.ReadResponse(220); err != nil {
		return Capabilities{}, err
	}
	if err := cmdExpect(t, 331, "USER %s", creds.User); err != nil {
		// Some servers grant access without a password prompt (230).
		if !isCode(err, 230) {
			return Capabilities{}, err
		}
	} else if err := cmdExpect(t, 230, "PASS %s", creds.Password); err != nil {
		return Capabilities{}, err
	}
	if err := cmdExpectAny(t, "TYPE I"); err != nil {
		return Capabilities{}, err
	}
	id, err := t.Cmd("FEAT")
	if err != nil {
		return Capabilities{}, nil // FEAT is optional; absence just means no extras
	}
	t.StartResponse(id)
	defer t.EndResponse(id)
	code, msg, err := t.ReadResponse(211)
	if err != nil || code != 211 {
		return Capabilities{}, nil
	}
	return ParseFeatLines(strings.Split(msg, "\n")), nil
}

func isCode(err error, code int) bool {
	var pe *textproto.Error
	if e, ok := err.(*textproto.Error); ok {
		pe = e
	}
	return pe != nil && pe.Code == code
}

func cmdExpect(t *textproto.Conn, expectCode int, format string, args ...any) error {
	id, err := t.Cmd(format, args...)
	if err != nil {
		return err
	}
	t.StartResponse(id)
	defer t.EndResponse(id)
	_, _, err = t.ReadResponse(expectCode)
	return err
}

func cmdExpectAny(t *textproto.Conn, format string, args ...any) error {
	id, err := t.Cmd(format, args...)
	if err != nil {
		return err
	}
	t.StartResponse(id)
	defer t.EndResponse(id)
	_, _, err = t.ReadCodeLine(2)
	return err
}

// pasv issues PASV and dials the resulting data connection.
func pasv(ctx context.Context, t *textproto.Conn, controlAddr string) (net.Conn, error) {
	id, err := t.Cmd("PASV")
	if err != nil {
		return nil, err
	}
	t.StartResponse(id)
	msg, err := t.ReadCodeLine(227)
	t.EndResponse(id)
	if err != nil {
		return nil, err
	}
	addr, err := parsePASV(msg)
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: DefaultDialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// parsePASV extracts "h1,h2,h3,h4,p1,p2" from a 227 reply and renders it
// as a dialable host:port.
func parsePASV(msg string) (string, error) {
	start := strings.IndexByte(msg, '(')
	end := strings.IndexByte(msg, ')')
	if start < 0 || end < 0 || end < start {
		return "", errors.Protocol("ftp.parsePASV", "", errValue("malformed PASV reply: "+msg))
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", errors.Protocol("ftp.parsePASV", "", errValue("malformed PASV reply: "+msg))
	}
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", errors.Protocol("ftp.parsePASV", "", errValue("malformed PASV port: "+msg))
	}
	host := strings.Join(parts[:4], ".")
	port := p1*256 + p2
	return fmt.Sprintf("%s:%d", host, port), nil
}

// List returns directory entries at dir, using MLSD when the pooled
// connection's probed capabilities support it, else LIST.
func (c *Client) List(ctx context.Context, addr, dir string) ([]string, error) {
	clean, err := SanitizePath(dir)
	if err != nil {
		return nil, err
	}
	pc, err := c.pool.Acquire(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(pc)

	cmd := "LIST"
	if ChooseListStrategy(pc.caps) == ListMLSD {
		cmd = "MLSD"
	}
	lines, err := c.dataCommandLines(ctx, pc, fmt.Sprintf("%s %s", cmd, clean))
	if err != nil && cmd == "MLSD" {
		// One-shot fallback to the plain path on extended-path failure
		// (spec §4.13).
		return c.dataCommandLines(ctx, pc, "LIST "+clean)
	}
	return lines, err
}

func (c *Client) dataCommandLines(ctx context.Context, pc *pooledConn, cmd string) ([]string, error) {
	data, err := pasv(ctx, pc.text, pc.addr)
	if err != nil {
		return nil, errors.Transport("ftp.Client.List", err)
	}
	id, err := pc.text.Cmd("%s", cmd)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	pc.text.StartResponse(id)
	if _, _, err := pc.text.ReadCodeLine(1); err != nil {
		pc.text.EndResponse(id)
		_ = data.Close()
		return nil, err
	}
	pc.text.EndResponse(id)

	var lines []string
	scanner := bufio.NewScanner(data)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	_ = data.Close()

	id, err = pc.text.Cmd("NOOP")
	if err == nil {
		pc.text.StartResponse(id)
		_, _, _ = pc.text.ReadResponse(200)
		pc.text.EndResponse(id)
	}
	return lines, scanner.Err()
}

// Upload sends r's contents to remotePath with STOR, switching to MODE Z
// first when ChooseUploadStrategy picks UploadCompressed. UploadResume is
// picked for large files on REST-capable servers, but it transfers the same
// way as the plain path: no REST command is sent and the STOR starts at
// offset zero.
func (c *Client) Upload(ctx context.Context, addr, remotePath string, r io.Reader, size int64) error {
	clean, err := SanitizePath(remotePath)
	if err != nil {
		return err
	}
	pc, err := c.pool.Acquire(ctx, addr)
	if err != nil {
		return err
	}
	defer c.pool.Release(pc)

	strat := ChooseUploadStrategy(pc.caps, size, c.isCompressible(clean))
	err = c.runTransfer(ctx, pc, "STOR "+clean, func(data net.Conn) error {
		_, copyErr := io.Copy(data, r)
		return copyErr
	}, strat == UploadCompressed)
	if err != nil && strat != UploadPlain {
		// One-shot fallback to the plain path on extended-path failure.
		return c.runTransfer(ctx, pc, "STOR "+clean, func(data net.Conn) error {
			_, copyErr := io.Copy(data, r)
			return copyErr
		}, false)
	}
	return err
}

// Download writes remotePath's contents to w.
func (c *Client) Download(ctx context.Context, addr, remotePath string, w io.Writer) error {
	clean, err := SanitizePath(remotePath)
	if err != nil {
		return err
	}
	pc, err := c.pool.Acquire(ctx, addr)
	if err != nil {
		return err
	}
	defer c.pool.Release(pc)

	return c.runTransfer(ctx, pc, "RETR "+clean, func(data net.Conn) error {
		_, copyErr := io.Copy(w, data)
		return copyErr
	}, false)
}

func (c *Client) isCompressible(name string) bool {
	if c.compressed == nil {
		return false
	}
	return c.compressed(name)
}

func (c *Client) runTransfer(ctx context.Context, pc *pooledConn, cmd string, body func(net.Conn) error, modeZ bool) error {
	if modeZ {
		if err := cmdExpect(pc.text, 200, "MODE Z"); err != nil {
			modeZ = false
		}
		defer func() {
			if modeZ {
				_ = cmdExpect(pc.text, 200, "MODE S")
			}
		}()
	}
	data, err := pasv(ctx, pc.text, pc.addr)
	if err != nil {
		return errors.Transport("ftp.Client.runTransfer", err)
	}
	id, err := pc.text.Cmd("%s", cmd)
	if err != nil {
		_ = data.Close()
		return err
	}
	pc.text.StartResponse(id)
	if _, _, err := pc.text.ReadCodeLine(1); err != nil {
		pc.text.EndResponse(id)
		_ = data.Close()
		return err
	}
	pc.text.EndResponse(id)

	bodyErr := body(data)
	_ = data.Close()
	if bodyErr != nil {
		return errors.Transport("ftp.Client.runTransfer", bodyErr)
	}
	_, _, err = pc.text.ReadResponse(226)
	return err
}

// Delete, Rename and Mkdir use plain commands with RetryManager-backed
// retry (spec §4.13, §4.11). Stat sends a single STAT without retry.
func (c *Client) Delete(ctx context.Context, addr, remotePath string) error {
	return c.plainCommand(ctx, addr, func(pc *pooledConn, clean string) error {
		return cmdExpect(pc.text, 250, "DELE %s", clean)
	}, remotePath)
}

func (c *Client) Mkdir(ctx context.Context, addr, remotePath string) error {
	return c.plainCommand(ctx, addr, func(pc *pooledConn, clean string) error {
		return cmdExpect(pc.text, 257, "MKD %s", clean)
	}, remotePath)
}

func (c *Client) Rename(ctx context.Context, addr, from, to string) error {
	cleanFrom, err := SanitizePath(from)
	if err != nil {
		return err
	}
	cleanTo, err := SanitizePath(to)
	if err != nil {
		return err
	}
	return c.retryMgr.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		pc, err := c.pool.Acquire(ctx, addr)
		if err != nil {
			return err
		}
		defer c.pool.Release(pc)
		if err := cmdExpect(pc.text, 350, "RNFR %s", cleanFrom); err != nil {
			return errors.Transport("ftp.Client.Rename", err)
		}
		if err := cmdExpect(pc.text, 250, "RNTO %s", cleanTo); err != nil {
			return errors.Transport("ftp.Client.Rename", err)
		}
		return nil
	}, "ftp-rename:"+addr+":"+cleanFrom)
}

func (c *Client) Stat(ctx context.Context, addr, remotePath string) (string, error) {
	clean, err := SanitizePath(remotePath)
	if err != nil {
		return "", err
	}
	pc, err := c.pool.Acquire(ctx, addr)
	if err != nil {
		return "", err
	}
	defer c.pool.Release(pc)

	id, err := pc.text.Cmd("%s", "STAT "+clean)
	if err != nil {
		return "", errors.Transport("ftp.Client.Stat", err)
	}
	pc.text.StartResponse(id)
	defer pc.text.EndResponse(id)
	_, msg, err := pc.text.ReadCodeLine(213)
	if err != nil {
		return "", errors.Transport("ftp.Client.Stat", err)
	}
	return msg, nil
}

func (c *Client) plainCommand(ctx context.Context, addr string, do func(*pooledConn, string) error, remotePath string) error {
	clean, err := SanitizePath(remotePath)
	if err != nil {
		return err
	}
	return c.retryMgr.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		pc, err := c.pool.Acquire(ctx, addr)
		if err != nil {
			return err
		}
		defer c.pool.Release(pc)
		if err := do(pc, clean); err != nil {
			return errors.Transport("ftp.Client.plainCommand", err)
		}
		return nil
	}, "ftp-cmd:"+addr+":"+clean)
}

var _ = path.Clean // retained: SanitizePath supersedes path.Clean's ".." handling
