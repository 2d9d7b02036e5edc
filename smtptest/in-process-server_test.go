package smtptest

import (
	"crypto/tls"
	"net"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Exercise the full client path against the TLS-enforcing server: greeting,
// STARTTLS, AUTH, and message delivery, then make sure the message is
// retrievable.
func TestInProcessServerReceivesMail(t *testing.T) {
	key, cert, err := GenerateTLSFiles(t)
	require.NoError(t, err)

	srv := NewInProcessServer(key, cert)
	require.NoError(t, srv.Listen())
	go srv.Serve()
	defer srv.Close()

	c, err := smtp.Dial(srv.Address())
	require.NoError(t, err)
	defer c.Close()

	host, _, err := net.SplitHostPort(srv.Address())
	require.NoError(t, err)

	// The test cert is self-signed, so verification must be off
	require.NoError(t, c.StartTLS(&tls.Config{InsecureSkipVerify: true}))
	require.NoError(t, c.Auth(smtp.PlainAuth("", "myuser123", "myuser123", host)))

	require.NoError(t, c.Mail("sender@example.com"))
	require.NoError(t, c.Rcpt("recipient@example.com"))

	w, err := c.Data()
	require.NoError(t, err)
	body := "Subject: hello\r\n\r\nthis is a test message\r\n"
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())

	msgs, err := srv.RetrieveEmails(0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.True(t, strings.Contains(msgs[0], "this is a test message"))
}

// The insecure variant must hand out its greeting without TLS or AUTH,
// since that's all the readiness probe needs.
func TestInsecureServerGreeting(t *testing.T) {
	srv := NewInsecureServer("127.0.0.1:0")
	require.NoError(t, srv.Listen())
	go srv.Serve()
	defer srv.Close()

	c, err := smtp.Dial(srv.Address())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Mail("sender@example.com"))
	require.NoError(t, c.Rcpt("recipient@example.com"))
}
