package runner

// runner manages the harness's two child processes: the SMTP server under
// test, which runs in the background with a scoped lifetime, and the test
// suite, which runs in the foreground with its output captured. It doesn't
// decide what an exit code means--that policy belongs to the harness
// package.
