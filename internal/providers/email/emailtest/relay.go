// Package emailtest provides a loopback SMTP relay for exercising the mail
// session against a real server implementation.
package emailtest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// Option configures a Relay.
type Option func(*Relay)

// RejectAuth makes the relay answer every AUTH attempt with 535.
func RejectAuth() Option {
	return func(r *Relay) { r.rejectAuth = true }
}

// WithoutAuth stops the relay from advertising the AUTH extension.
func WithoutAuth() Option {
	return func(r *Relay) { r.withoutAuth = true }
}

// WithTLS advertises STARTTLS backed by a self-signed certificate for
// "localhost". Only clients using ClientTLSConfig trust it.
func WithTLS() Option {
	return func(r *Relay) { r.withTLS = true }
}

// RejectRecipient answers RCPT TO with 550.
func RejectRecipient() Option {
	return func(r *Relay) { r.rejectRcpt = true }
}

// Session is the transcript of one SMTP connection. Read it only after
// Relay.Wait has returned.
type Session struct {
	// Addr is the address the client asked to dial.
	Addr          string
	Hello         string
	TLS           bool
	TLSBeforeAuth bool
	AuthUser      string
	AuthPass      string
	Authenticated bool
	MailFrom      string
	Rcpts         []string
	Data          string
	Messages      int

	conn *trackedConn
}

// ClientClosed reports whether the client released its end of the connection.
func (s *Session) ClientClosed() bool { return s.conn != nil && s.conn.closed.Load() }

// Part is one MIME part of a delivered message, with its transfer encoding
// already decoded.
type Part struct {
	ContentType string
	Disposition string
	Body        string
}

// Mail is a delivered message split into its top-level header and parts.
type Mail struct {
	Header      mail.Header
	ContentType string
	Parts       []Part
}

// ParseMail parses the DATA payload of the session.
func (s *Session) ParseMail() (*Mail, error) {
	mr, err := mail.CreateReader(strings.NewReader(s.Data))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	ct, _, err := mr.Header.ContentType()
	if err != nil {
		return nil, fmt.Errorf("parse mail: content type: %w", err)
	}
	out := &Mail{Header: mr.Header, ContentType: ct}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse mail: next part: %w", err)
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("parse mail: read part: %w", err)
		}
		out.Parts = append(out.Parts, Part{
			ContentType: p.Header.Get("Content-Type"),
			Disposition: p.Header.Get("Content-Disposition"),
			Body:        string(body),
		})
	}
	return out, nil
}

// Relay is an SMTP server on a loopback port. Its DialContext method
// satisfies the provider's Dialer interface and always reaches the relay,
// whatever address the client asks for.
type Relay struct {
	t           testing.TB
	rejectAuth  bool
	withoutAuth bool
	withTLS     bool
	rejectRcpt  bool

	listener  net.Listener
	server    *gosmtp.Server
	clientTLS *tls.Config

	mu       sync.Mutex
	sessions []*Session
	byPeer   map[string]*Session
	wg       sync.WaitGroup
}

// NewRelay starts a relay that accepts AUTH PLAIN and every message. It is
// shut down when the test finishes.
func NewRelay(t testing.TB, opts ...Option) *Relay {
	t.Helper()
	r := &Relay{t: t, byPeer: make(map[string]*Session)}
	for _, opt := range opts {
		opt(r)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fake smtp relay: listen: %v", err)
	}
	r.listener = ln

	srv := gosmtp.NewServer(&backend{relay: r})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	if r.withTLS {
		srv.TLSConfig, r.clientTLS = selfSignedTLS(t)
	}
	r.server = srv

	go func() {
		_ = srv.Serve(&trackingListener{Listener: ln, relay: r})
	}()
	t.Cleanup(func() {
		r.Wait()
		_ = srv.Close()
	})
	return r
}

// ClientTLSConfig returns a client configuration that trusts the relay's
// certificate, or nil when the relay was built without WithTLS.
func (r *Relay) ClientTLSConfig() *tls.Config {
	if r.clientTLS == nil {
		return nil
	}
	return r.clientTLS.Clone()
}

// DialContext opens a connection to the relay and records address as the
// session's requested address.
func (r *Relay) DialContext(ctx context.Context, _ string, address string) (net.Conn, error) {
	r.wg.Add(1)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", r.listener.Addr().String())
	if err != nil {
		r.wg.Done()
		return nil, err
	}

	tracked := &trackedConn{Conn: conn}
	r.mu.Lock()
	sess := r.sessionLocked(conn.LocalAddr().String())
	sess.Addr = address
	sess.conn = tracked
	r.mu.Unlock()

	return tracked, nil
}

// Wait blocks until the relay has finished every conversation.
func (r *Relay) Wait() { r.wg.Wait() }

// Sessions waits for all conversations and returns their transcripts.
func (r *Relay) Sessions() []*Session {
	r.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Session(nil), r.sessions...)
}

func (r *Relay) session(peer string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionLocked(peer)
}

func (r *Relay) sessionLocked(peer string) *Session {
	if sess, ok := r.byPeer[peer]; ok {
		return sess
	}
	sess := &Session{}
	r.byPeer[peer] = sess
	r.sessions = append(r.sessions, sess)
	return sess
}

type backend struct {
	relay *Relay
}

func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	s := &session{
		relay: b.relay,
		conn:  c,
		rec:   b.relay.session(c.Conn().RemoteAddr().String()),
	}
	s.observe()
	if b.relay.withoutAuth {
		return s, nil
	}
	return &authSession{session: s}, nil
}

type session struct {
	relay *Relay
	conn  *gosmtp.Conn
	rec   *Session
}

// observe copies connection state the backend API only exposes on the conn.
func (s *session) observe() {
	if name := s.conn.Hostname(); name != "" {
		s.rec.Hello = name
	}
	if _, ok := s.conn.TLSConnectionState(); ok {
		s.rec.TLS = true
	}
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.observe()
	s.rec.MailFrom = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.relay.rejectRcpt {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.rec.Rcpts = append(s.rec.Rcpts, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.rec.Data = string(data)
	s.rec.Messages++
	return nil
}

func (s *session) Reset() {}

func (s *session) Logout() error { return nil }

type authSession struct {
	*session
}

func (s *authSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *authSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		s.observe()
		s.rec.AuthUser = username
		s.rec.AuthPass = password
		s.rec.TLSBeforeAuth = s.rec.TLS
		if s.relay.rejectAuth {
			return &gosmtp.SMTPError{
				Code:         535,
				EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication credentials invalid",
			}
		}
		s.rec.Authenticated = true
		return nil
	}), nil
}

// trackingListener marks a conversation finished when the server closes its
// end of the connection.
type trackingListener struct {
	net.Listener
	relay *Relay
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &serverConn{Conn: conn, done: l.relay.wg.Done}, nil
}

type serverConn struct {
	net.Conn
	once sync.Once
	done func()
}

func (c *serverConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.done)
	return err
}

type trackedConn struct {
	net.Conn
	closed atomic.Bool
}

func (c *trackedConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

func selfSignedTLS(t testing.TB) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("fake smtp relay: generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("fake smtp relay: create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("fake smtp relay: parse certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
		MinVersion:   tls.VersionTLS12,
	}
	client = &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	}
	return server, client
}
