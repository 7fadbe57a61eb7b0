package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore"
	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends plain-text mail through an SMTP relay, upgrading to
// STARTTLS when offered and authenticating with PLAIN when a username is set.
type SMTPMailer struct {
	cfg  SMTPConfig
	dial gomail.DialContextFunc
	now  func() time.Time
}

// NewSMTPMailer validates cfg and returns a mailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	var d net.Dialer
	return &SMTPMailer{cfg: cfg, dial: d.DialContext, now: time.Now}, nil
}

var _ authcore.Mailer = (*SMTPMailer)(nil)

// Send delivers msg. The relay connection lives no longer than ctx: when ctx
// ends the connection is closed and Send returns the context error.
func (m *SMTPMailer) Send(ctx context.Context, msg authcore.Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return errors.New("header injection in message")
	}

	out, err := m.message(msg)
	if err != nil {
		return err
	}

	conns := &connSet{}
	defer conns.closeAll()

	client, err := gomail.NewClient(m.cfg.Host, m.options(ctx, conns)...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send: %w", ctxErr)
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) message(msg authcore.Message) (*gomail.Msg, error) {
	out := gomail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp recipient: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetDateWithValue(m.now())
	out.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return out, nil
}

func (m *SMTPMailer) options(ctx context.Context, conns *connSet) []gomail.Option {
	opts := []gomail.Option{
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithPort(m.cfg.Port),
		gomail.WithDialContextFunc(func(dialCtx context.Context, network, addr string) (net.Conn, error) {
			conn, err := m.dial(dialCtx, network, addr)
			if err != nil {
				return nil, err
			}
			return conns.bind(ctx, conn), nil
		}),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}
	return opts
}

// connSet tracks the connections opened for one Send so none outlives it.
type connSet struct {
	mu    sync.Mutex
	conns []*boundConn
}

// bind closes conn as soon as ctx ends, which unblocks any pending read or
// write. The caller therefore always observes ctx.Err() once ctx is done.
func (s *connSet) bind(ctx context.Context, conn net.Conn) net.Conn {
	bc := &boundConn{Conn: conn}
	bc.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })

	s.mu.Lock()
	s.conns = append(s.conns, bc)
	s.mu.Unlock()
	return bc
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

type boundConn struct {
	net.Conn
	stop      func() bool
	closeOnce sync.Once
	closeErr  error
}

func (c *boundConn) Close() error {
	c.closeOnce.Do(func() {
		c.stop()
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
