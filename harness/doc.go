package harness

// harness orchestrates a test cycle against an external SMTP server: it
// owns the order of operations (launch, probe, test, record, tear down)
// and the policy for translating whatever goes wrong into an exit code.
// The mechanics of each step live in the runner, probe, and history
// packages.
