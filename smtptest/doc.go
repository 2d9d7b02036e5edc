package smtptest

// smtptest provides an in-process SMTP server for exercising the harness
// without a real server. The harness's own tests probe it for readiness,
// and the -mockserver CLI mode runs it in the foreground so users can try
// out a harness config before pointing it at the real thing.
