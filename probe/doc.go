package probe

// probe waits for a server process to start accepting connections. It
// replaces a fixed startup sleep with a bounded-retry connection check so
// a slow server start doesn't get misreported as a test failure.
