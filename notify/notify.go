// Package notify delivers rendered reports to the administrator through an
// SMTP relay.
package notify

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/k3a/html2text"
)

type Options struct {
	Host               string
	Port               int
	From               string
	To                 []string
	Subject            string
	Username           string
	Password           string
	UseTLS             bool
	UseStartTLS        bool
	InsecureSkipVerify bool
}

// Mailer sends notification mail over a configured relay. Delivery failures
// are reported to the caller, which logs and absorbs them; a lost alert
// never aborts a run.
type Mailer struct {
	opts   Options
	logger *slog.Logger
}

func NewMailer(opts Options, logger *slog.Logger) (*Mailer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("smtp port must be between 1 and 65535")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("notification source address is empty")
	}
	if len(opts.To) == 0 {
		return nil, fmt.Errorf("notification destination address list is empty")
	}
	return &Mailer{opts: opts, logger: logger}, nil
}

// Send builds a multipart/alternative message around the HTML body and
// relays it. The plaintext alternative is derived from the HTML.
func (m *Mailer) Send(htmlBody string) error {
	msg, err := m.buildMessage(htmlBody)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}

	client, err := m.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(m.opts.From, nil); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range m.opts.To {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return fmt.Errorf("smtp write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	if err := client.Quit(); err != nil {
		// The message is already accepted at this point.
		if m.logger != nil {
			m.logger.Warn("smtp quit failed", "err", err)
		}
	}

	if m.logger != nil {
		m.logger.Info("notification sent", "to", m.opts.To, "subject", m.opts.Subject, "bytes", len(msg))
	}
	return nil
}

func (m *Mailer) dial() (*smtp.Client, error) {
	address := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         m.opts.Host,
		InsecureSkipVerify: m.opts.InsecureSkipVerify,
	}

	var (
		client *smtp.Client
		err    error
	)
	switch {
	case m.opts.UseTLS:
		client, err = smtp.DialTLS(address, tlsConfig)
	case m.opts.UseStartTLS:
		client, err = smtp.DialStartTLS(address, tlsConfig)
	default:
		client, err = smtp.Dial(address)
	}
	if err != nil {
		return nil, fmt.Errorf("dial smtp relay %s: %w", address, err)
	}

	if m.opts.Username != "" {
		auth := sasl.NewPlainClient("", m.opts.Username, m.opts.Password)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}

	return client, nil
}

func (m *Mailer) buildMessage(htmlBody string) ([]byte, error) {
	from := []*mail.Address{{Address: m.opts.From}}
	to := make([]*mail.Address, 0, len(m.opts.To))
	for _, addr := range m.opts.To {
		to = append(to, &mail.Address{Address: addr})
	}

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", from)
	header.SetAddressList("To", to)
	header.SetSubject(m.opts.Subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create alternative part: %w", err)
	}

	var textHeader mail.InlineHeader
	textHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := iw.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(tw, html2text.HTML2Text(htmlBody)); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close text part: %w", err)
	}

	var htmlHeader mail.InlineHeader
	htmlHeader.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	hw, err := iw.CreatePart(htmlHeader)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(hw, htmlBody); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}
	if err := hw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("close alternative part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}

	return buf.Bytes(), nil
}
