package userconfig

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/alecthomas/units"

	yaml "gopkg.in/yaml.v2"
)

// Probe attempts must be spaced out by at least this much so we don't
// hammer a server that's busy binding its port.
const minPollIntervalMS int64 = 50

// Meta represents all current config options that the harness can use,
// i.e., after validation and parsing
type Meta struct {
	Server    Server    `yaml:"server"`
	Readiness Readiness `yaml:"readiness"`
	Tests     Tests     `yaml:"tests"`
	History   History   `yaml:"history"`
}

// Server contains config options for the SMTP server process under test
type Server struct {
	// Command line used to launch the server, as an argv list
	Command []string
	// host:port the server is expected to listen on. This is the
	// readiness probe's target.
	Address string
	// How long to wait between an interrupt and a kill when tearing the
	// server down
	GracePeriod time.Duration
}

// Readiness contains config options for the probe that replaces a fixed
// startup sleep
type Readiness struct {
	// Total budget for the server to become ready
	MaxWait time.Duration
	// Delay between connection attempts
	PollInterval time.Duration
	// Per-attempt connection timeout
	DialTimeout time.Duration
	// Require an SMTP 220 greeting rather than a bare TCP connect
	ExpectBanner bool
}

// Tests contains config options for the test suite process
type Tests struct {
	// Command line used to launch the test suite, as an argv list
	Command []string
	// Zero means the harness waits for the suite indefinitely, which is
	// the historical behavior.
	Timeout time.Duration
	// Cap on captured stdout/stderr from the test process
	OutputLimit int64
}

// History contains config options for the run-record store. An empty
// StorageDirPath disables recording.
type History struct {
	StorageDirPath string
	KeyTTLDuration time.Duration
}

// UnmarshalYAML parses the user-provided server section, returning any
// parsing errors.
func (s *Server) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v struct {
		Command     []string `yaml:"command"`
		Address     string   `yaml:"address"`
		GracePeriod string   `yaml:"gracePeriod"`
	}
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the server config: %v", err)
	}

	s.Command = v.Command
	s.Address = v.Address

	if v.GracePeriod == "" {
		v.GracePeriod = "0s"
	}
	g, err := time.ParseDuration(v.GracePeriod)
	if err != nil {
		return fmt.Errorf(
			"can't parse the user-provided grace period as a duration: %v",
			err,
		)
	}
	s.GracePeriod = g

	return nil
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *Server) CheckAndSetDefaults() (Server, error) {
	if len(s.Command) == 0 {
		return Server{}, errors.New(
			"user-provided config does not include a server command",
		)
	}

	if s.Address == "" {
		return Server{}, errors.New(
			"user-provided config does not include a server address",
		)
	}
	if _, _, err := net.SplitHostPort(s.Address); err != nil {
		return Server{}, fmt.Errorf(
			"the server address must be a host:port pair: %v", err,
		)
	}

	if s.GracePeriod == 0 {
		s.GracePeriod = 5 * time.Second
	}

	return *s, nil
}

// UnmarshalYAML parses the user-provided readiness section, returning any
// parsing errors.
func (r *Readiness) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v struct {
		MaxWait      string `yaml:"maxWait"`
		PollInterval string `yaml:"pollInterval"`
		DialTimeout  string `yaml:"dialTimeout"`
		ExpectBanner bool   `yaml:"expectBanner"`
	}
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the readiness config: %v", err)
	}

	for key, f := range map[string]struct {
		raw string
		dst *time.Duration
	}{
		"maxWait":      {v.MaxWait, &r.MaxWait},
		"pollInterval": {v.PollInterval, &r.PollInterval},
		"dialTimeout":  {v.DialTimeout, &r.DialTimeout},
	} {
		if f.raw == "" {
			f.raw = "0s"
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf(
				"can't parse the user-provided %v as a duration: %v",
				key,
				err,
			)
		}
		*f.dst = d
	}

	r.ExpectBanner = v.ExpectBanner

	return nil
}

// CheckAndSetDefaults validates r and either returns a copy of r with default
// settings applied or returns an error due to an invalid configuration
func (r *Readiness) CheckAndSetDefaults() (Readiness, error) {
	if r.MaxWait == 0 {
		r.MaxWait = 10 * time.Second
	}
	if r.PollInterval == 0 {
		r.PollInterval = 250 * time.Millisecond
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = time.Second
	}

	if r.PollInterval.Milliseconds() < minPollIntervalMS {
		return Readiness{}, fmt.Errorf(
			"the poll interval must be at least %vms", minPollIntervalMS,
		)
	}

	if r.PollInterval >= r.MaxWait {
		return Readiness{}, errors.New(
			"the poll interval must be shorter than the maximum wait",
		)
	}

	return *r, nil
}

// UnmarshalYAML parses the user-provided tests section, returning any
// parsing errors.
func (t *Tests) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v struct {
		Command     []string `yaml:"command"`
		Timeout     string   `yaml:"timeout"`
		OutputLimit string   `yaml:"outputLimit"`
	}
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the tests config: %v", err)
	}

	t.Command = v.Command

	if v.Timeout == "" {
		v.Timeout = "0s"
	}
	d, err := time.ParseDuration(v.Timeout)
	if err != nil {
		return fmt.Errorf(
			"can't parse the user-provided test timeout as a duration: %v",
			err,
		)
	}
	t.Timeout = d

	if v.OutputLimit != "" {
		// Accepts human-readable sizes like "1MiB" or "512KiB"
		b, err := units.ParseBase2Bytes(v.OutputLimit)
		if err != nil {
			return fmt.Errorf(
				"can't parse the user-provided output limit as a size: %v",
				err,
			)
		}
		t.OutputLimit = int64(b)
	}

	return nil
}

// CheckAndSetDefaults validates t and either returns a copy of t with default
// settings applied or returns an error due to an invalid configuration
func (t *Tests) CheckAndSetDefaults() (Tests, error) {
	if len(t.Command) == 0 {
		return Tests{}, errors.New(
			"user-provided config does not include a test command",
		)
	}

	if t.OutputLimit < 0 {
		return Tests{}, errors.New("the output limit must not be negative")
	}
	if t.OutputLimit == 0 {
		t.OutputLimit = int64(units.MiB)
	}

	return *t, nil
}

// UnmarshalYAML parses the user-provided history section, returning any
// parsing errors.
func (h *History) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the history config: %v", err)
	}

	h.StorageDirPath = v["storageDir"]

	raw, ok := v["keyTTL"]
	if !ok {
		raw = "0s"
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf(
			"can't parse the user-provided key TTL as a duration: %v",
			err,
		)
	}
	h.KeyTTLDuration = d

	return nil
}

// CheckAndSetDefaults validates h and either returns a copy of h with default
// settings applied or returns an error due to an invalid configuration
func (h *History) CheckAndSetDefaults() (History, error) {
	// An empty storage path is valid and disables run recording, so
	// there is nothing to check for it here.
	if h.KeyTTLDuration == 0 {
		h.KeyTTLDuration = 168 * time.Hour
	}

	return *h, nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	s, err := m.Server.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Server = s

	r, err := m.Readiness.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Readiness = r

	t, err := m.Tests.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Tests = t

	h, err := m.History.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.History = h

	return c, nil
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing or validation. The Reader r
// can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	if len(m.Server.Command) == 0 && m.Server.Address == "" {
		return &Meta{}, errors.New("must include a \"server\" section")
	}

	if len(m.Tests.Command) == 0 {
		return &Meta{}, errors.New("must include a \"tests\" section")
	}

	return &m, nil
}
