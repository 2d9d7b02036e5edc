package smtptest

import (
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

// GenerateTLSFiles writes a TLS key and certificate to a temporary test
// directory that is removed after the test suite runs, returning the file
// paths of the key and certificate. The certificate is a root cert, which
// NewInProcessServer requires.
func GenerateTLSFiles(t *testing.T) (keyPath string, certPath string, err error) {
	host := "127.0.0.1"
	dir := t.TempDir()
	err = testcert.GenerateCert(
		host,
		"",        // start of the validity window; defaults to now
		time.Hour, // the test suite won't run for this long
		true,      // is a CA cert
		2048,      // usually seen in online tutorials
		"",        // using the default ecdsa curve
		dir,
	)

	if err != nil {
		return
	}

	// These path names are hardcoded into testcert.GenerateCert, which
	// concatenates its dir argument and the host directly.
	keyPath = dir + host + ".key.pem"
	certPath = dir + host + ".cert.pem"

	return
}
