package userconfig

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	// Asserting deep equality between the expected and actual Meta would
	// be really convoluted and brittle, so we make sure nothing fails
	// unexpectedly here and test knottier validation situations
	// elsewhere.
	testCases := []struct {
		description   string
		conf          string
		shouldBeError bool
		shouldBeEmpty bool
	}{
		{
			description:   "valid case",
			shouldBeError: false,
			shouldBeEmpty: false,
			conf: `---
server:
    command: ["python3", "smtp_server.py"]
    address: 127.0.0.1:2525
    gracePeriod: 5s
readiness:
    maxWait: 10s
    pollInterval: 250ms
    expectBanner: true
tests:
    command: ["python3", "tests.py"]
    timeout: 2m
    outputLimit: 1MiB
history:
    storageDir: ./runs
    keyTTL: 168h`,
		},
		{
			description:   "not yaml",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf:          `this is not yaml`,
		},
		{
			description:   "missing server section",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
tests:
    command: ["python3", "tests.py"]`,
		},
		{
			description:   "missing tests section",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
server:
    command: ["python3", "smtp_server.py"]
    address: 127.0.0.1:2525`,
		},
		{
			description:   "unparseable duration",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
server:
    command: ["python3", "smtp_server.py"]
    address: 127.0.0.1:2525
    gracePeriod: 5y
tests:
    command: ["python3", "tests.py"]`,
		},
		{
			description:   "unparseable output limit",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
server:
    command: ["python3", "smtp_server.py"]
    address: 127.0.0.1:2525
tests:
    command: ["python3", "tests.py"]
    outputLimit: lots`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			b := bytes.NewBuffer([]byte(tc.conf))
			m, err := Parse(b)

			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}

			if reflect.DeepEqual(*m, Meta{}) != tc.shouldBeEmpty {
				l := map[bool]string{
					true:  "to be",
					false: "not to be",
				}
				t.Errorf(
					"%v: expected the Meta %v empty, but got the opposite",
					tc.description,
					l[tc.shouldBeEmpty],
				)
			}
		})

	}

}

func TestServerCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description   string
		input         Server
		shouldBeError bool
	}{
		{
			description: "valid case",
			input: Server{
				Command: []string{"python3", "smtp_server.py"},
				Address: "127.0.0.1:2525",
			},
			shouldBeError: false,
		},
		{
			description: "no command",
			input: Server{
				Address: "127.0.0.1:2525",
			},
			shouldBeError: true,
		},
		{
			description: "no address",
			input: Server{
				Command: []string{"python3", "smtp_server.py"},
			},
			shouldBeError: true,
		},
		{
			description: "address without a port",
			input: Server{
				Command: []string{"python3", "smtp_server.py"},
				Address: "127.0.0.1",
			},
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			s, err := tc.input.CheckAndSetDefaults()
			if (err != nil) != tc.shouldBeError {
				t.Fatalf(
					"expected error status of %v but got %v with error %v",
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if err == nil && s.GracePeriod == 0 {
				t.Error("expected a default grace period to be applied")
			}
		})
	}
}

func TestReadinessCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description   string
		input         Readiness
		shouldBeError bool
	}{
		{
			description:   "all defaults",
			input:         Readiness{},
			shouldBeError: false,
		},
		{
			description: "poll interval too small",
			input: Readiness{
				PollInterval: 10 * time.Millisecond,
			},
			shouldBeError: true,
		},
		{
			description: "poll interval exceeds max wait",
			input: Readiness{
				MaxWait:      time.Second,
				PollInterval: 2 * time.Second,
			},
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			r, err := tc.input.CheckAndSetDefaults()
			if (err != nil) != tc.shouldBeError {
				t.Fatalf(
					"expected error status of %v but got %v with error %v",
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if err != nil {
				return
			}
			if r.MaxWait == 0 || r.PollInterval == 0 || r.DialTimeout == 0 {
				t.Error("expected default probe durations to be applied")
			}
		})
	}
}

func TestTestsCheckAndSetDefaults(t *testing.T) {
	c := Tests{
		Command: []string{"python3", "tests.py"},
	}
	out, err := c.CheckAndSetDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if out.OutputLimit == 0 {
		t.Error("expected a default output limit to be applied")
	}
	if out.Timeout != 0 {
		t.Error("expected no default test timeout, since the historical behavior is to wait indefinitely")
	}
}
