// Package managesieve fetches rules over the ManageSieve protocol
// (RFC 5804), authenticating as an administrative user with a SASL PLAIN
// authorization identity of the audited mailbox.
package managesieve

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/rulewatch/rulewatch/model"
	"github.com/rulewatch/rulewatch/rules"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	// Mailboxes must be configured explicitly; ManageSieve has no account
	// enumeration facility.
	Mailboxes []string
}

type Source struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Source, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("managesieve host is empty")
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("managesieve port must be between 1 and 65535")
	}
	if opts.Username == "" {
		return nil, fmt.Errorf("managesieve username is empty")
	}
	if len(opts.Mailboxes) == 0 {
		return nil, fmt.Errorf("managesieve source needs an explicit mailbox list")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Source{opts: opts, logger: logger}, nil
}

func (s *Source) Mailboxes(ctx context.Context) ([]string, error) {
	mailboxes := append([]string(nil), s.opts.Mailboxes...)
	sort.Strings(mailboxes)
	return mailboxes, nil
}

// Rules opens a fresh connection per mailbox so that one account's failure
// cannot poison the session used for the others.
func (s *Source) Rules(ctx context.Context, mailbox string) ([]model.Rule, error) {
	conn, err := s.dial(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	defer conn.close()

	scripts, err := conn.listScripts()
	if err != nil {
		return nil, fmt.Errorf("list scripts for %s: %w", mailbox, err)
	}

	var all []model.Rule
	for _, script := range scripts {
		content, err := conn.getScript(script.Name)
		if err != nil {
			return nil, fmt.Errorf("fetch script %s for %s: %w", script.Name, mailbox, err)
		}
		script.Content = content

		parsed, err := rules.ParseScript(script)
		if err != nil {
			return nil, fmt.Errorf("parse script %s for %s: %w", script.Name, mailbox, err)
		}
		all = append(all, parsed...)
	}

	if s.logger != nil {
		s.logger.Debug("fetched rules over managesieve", "mailbox", mailbox, "scripts", len(scripts), "rules", len(all))
	}
	return all, nil
}

type clientConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func (s *Source) dial(ctx context.Context, mailbox string) (*clientConn, error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	dialer := &net.Dialer{Timeout: s.opts.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if s.opts.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName:         s.opts.Host,
				InsecureSkipVerify: s.opts.InsecureSkipVerify,
			},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("dial managesieve %s: %w", address, err)
	}
	_ = conn.SetDeadline(time.Now().Add(s.opts.Timeout))

	c := &clientConn{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}

	// Greeting: capability lines followed by OK.
	if _, err := c.readResponse(); err != nil {
		c.close()
		return nil, fmt.Errorf("managesieve greeting: %w", err)
	}

	if err := c.authenticate(mailbox, s.opts.Username, s.opts.Password); err != nil {
		c.close()
		return nil, fmt.Errorf("managesieve auth for %s: %w", mailbox, err)
	}

	return c, nil
}

func (c *clientConn) close() {
	_ = c.conn.Close()
}

// authenticate performs SASL PLAIN with the mailbox as authorization
// identity, so an admin credential can read any account's scripts.
func (c *clientConn) authenticate(mailbox, username, password string) error {
	client := sasl.NewPlainClient(mailbox, username, password)
	_, initial, err := client.Start()
	if err != nil {
		return fmt.Errorf("sasl start: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(initial)
	if err := c.writeLine(fmt.Sprintf(`AUTHENTICATE "PLAIN" "%s"`, encoded)); err != nil {
		return err
	}
	_, err = c.readResponse()
	return err
}

func (c *clientConn) listScripts() ([]rules.Script, error) {
	if err := c.writeLine("LISTSCRIPTS"); err != nil {
		return nil, err
	}
	lines, err := c.readResponse()
	if err != nil {
		return nil, err
	}

	var scripts []rules.Script
	for _, line := range lines {
		name, rest, ok := parseQuoted(line)
		if !ok {
			continue
		}
		scripts = append(scripts, rules.Script{
			Name:   name,
			Active: strings.EqualFold(strings.TrimSpace(rest), "ACTIVE"),
		})
	}
	return scripts, nil
}

func (c *clientConn) getScript(name string) (string, error) {
	if err := c.writeLine(fmt.Sprintf("GETSCRIPT %s", quote(name))); err != nil {
		return "", err
	}
	lines, err := c.readResponse()
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("empty GETSCRIPT response")
	}
	return lines[0], nil
}

func (c *clientConn) writeLine(line string) error {
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush command: %w", err)
	}
	return nil
}

// readResponse collects response lines until the OK/NO/BYE terminator.
// Literals ({n} followed by n raw bytes) are resolved into the line they
// terminate, which is how GETSCRIPT returns the script body.
func (c *clientConn) readResponse() ([]string, error) {
	var lines []string
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if size, ok := literalSize(line); ok {
			data := make([]byte, size)
			if _, err := io.ReadFull(c.r, data); err != nil {
				return nil, fmt.Errorf("read literal: %w", err)
			}
			lines = append(lines, string(data))
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "OK"):
			return lines, nil
		case strings.HasPrefix(upper, "NO"), strings.HasPrefix(upper, "BYE"):
			return nil, fmt.Errorf("server rejected command: %s", line)
		default:
			lines = append(lines, line)
		}
	}
}

func literalSize(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "{"), "}")
	inner = strings.TrimSuffix(inner, "+")
	size, err := strconv.Atoi(inner)
	if err != nil || size < 0 {
		return 0, false
	}
	return size, true
}

func parseQuoted(line string) (value, rest string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, `"`) {
		return "", "", false
	}
	end := strings.Index(line[1:], `"`)
	if end < 0 {
		return "", "", false
	}
	return line[1 : end+1], line[end+2:], true
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
