package smtptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// messageData includes the body content and created timestamp for an email
// message, allowing us to inspect message bodies before/after a timestamp
// for correctness.
type messageData struct {
	created time.Time
	body    string
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	allowAnonymous bool
}

// Login implements smtp.Backend. Any username/password is fine, since we
// don't want to couple this with specific test configurations.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username != "" && password != "" {
		return be.InMemoryEmailStore, nil
	}
	return nil, errors.New("no username or password provided")
}

// AnonymousLogin implements smtp.Backend. Whether it's supported depends on
// how the server was created: the secure constructor enforces AUTH, while
// the insecure one takes anything so probe and harness tests stay simple.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	if be.allowAnonymous {
		return be.InMemoryEmailStore, nil
	}
	return nil, smtp.ErrAuthUnsupported
}

// InMemoryEmailStore retains email bodies in memory for comparison against
// a test's expected output. Implements smtp.Session.
// Designed to be goroutine safe since we don't know how many goroutines will
// be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []messageData
}

// Reset implements smtp.Session. No-op here.
func (es *InMemoryEmailStore) Reset() {}

// Logout implements smtp.Session. No-op here.
func (es *InMemoryEmailStore) Logout() error { return nil }

// Mail implements smtp.Session. No-op here.
func (es *InMemoryEmailStore) Mail(_ string, _ smtp.MailOptions) error { return nil }

// Rcpt implements smtp.Session. No-op here.
func (es *InMemoryEmailStore) Rcpt(to string) error { return nil }

// Data implements smtp.Session. Stores the email data in memory for
// retrieval at the end of the test.
func (es *InMemoryEmailStore) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	str := &strings.Builder{}
	if _, err := str.Write(buf); err != nil {
		return err
	}
	es.saveEmail(str.String())
	return nil
}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us probe for its greeting and inspect sent emails.
// You must initialize this via NewInProcessServer or NewInsecureServer.
type InProcessServer struct {
	*smtp.Server
	// We're also using this as an smtp.Session, i.e., the Backend of the
	// *smtp.Server. This is kind of gross, but allows us to access the
	// *InMemoryEmailStore. Otherwise, we're stuck with
	// *smtp.Server.Backend, which just leaves us with the Backend
	// interface methods.
	*InMemoryEmailStore
	addr     string
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer that enforces TLS and AUTH,
// configured to store incoming messages in memory. Must provide the paths
// to the key and cert used for TLS. The cert must be a root cert.
func NewInProcessServer(keypath string, certpath string) *InProcessServer {
	ip := newServer("127.0.0.1:0", false)

	ip.Server.AllowInsecureAuth = false // need AUTH here
	ip.Server.AuthDisabled = false      // need AUTH here

	cert, err := tls.LoadX509KeyPair(certpath, keypath)

	// No way to carry on without a cert, so we panic. We're in a test
	// suite, so this should be fine.
	if err != nil {
		panic(err)
	}

	ip.Server.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	return ip
}

// NewInsecureServer creates an InProcessServer with no TLS and no required
// AUTH. Used by the mock-server mode and by tests that only care about the
// 220 greeting.
func NewInsecureServer(addr string) *InProcessServer {
	ip := newServer(addr, true)
	ip.Server.AllowInsecureAuth = true
	ip.Server.AuthDisabled = true
	return ip
}

func newServer(addr string, allowAnonymous bool) *InProcessServer {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []messageData{},
	}

	srv := smtp.NewServer(&Backend{
		InMemoryEmailStore: is,
		allowAnonymous:     allowAnonymous,
	})

	srv.Domain = "localhost"
	// Strict is undocumented, but it looks like it enforces <address>
	// syntax in messages:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		addr:               addr,
	}
}

// saveEmail stores the email body in memory along with a timestamp created
// just prior to saving
func (es *InMemoryEmailStore) saveEmail(bod string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.messages = append(es.messages, messageData{
		created: time.Now(),
		body:    bod,
	})

}

// Listen binds the server's port without accepting connections yet. We
// split this from Serve so callers can learn the actual address when the
// configured one uses port 0.
func (is *InProcessServer) Listen() error {
	l, err := net.Listen("tcp", is.addr)
	if err != nil {
		return fmt.Errorf("can't listen on %v: %v", is.addr, err)
	}
	is.listener = l
	return nil
}

// Serve accepts connections until Close is called. Blocking: call Listen
// first, then run this in its own goroutine. Not using ListenAndServeTLS
// even with TLS configured--the client should upgrade the connection via
// STARTTLS.
func (is *InProcessServer) Serve() error {
	if is.listener == nil {
		return errors.New("must call Listen before Serve")
	}
	return is.Server.Serve(is.listener)
}

// Address returns the host:port the server is actually listening on. Only
// valid after Listen.
func (is *InProcessServer) Address() string {
	if is.listener == nil {
		return is.addr
	}
	return is.listener.Addr().String()
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.body)
		}
	}
	return r, nil
}
