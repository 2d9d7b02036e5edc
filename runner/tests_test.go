package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunTestsExitCodes(t *testing.T) {
	testCases := []struct {
		description  string
		command      []string
		expectedCode int
	}{
		{
			description:  "passing suite",
			command:      []string{"sh", "-c", "exit 0"},
			expectedCode: 0,
		},
		{
			description:  "failing suite",
			command:      []string{"sh", "-c", "exit 1"},
			expectedCode: 1,
		},
		{
			// Any non-zero code must be reported as-is; collapsing
			// them into a failure is the harness's job.
			description:  "failing suite with a different code",
			command:      []string{"sh", "-c", "exit 2"},
			expectedCode: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			res, err := RunTests(context.Background(), TestConfig{
				Command: tc.command,
			})
			require.NoError(t, err)
			require.Equal(t, tc.expectedCode, res.ExitCode)
			require.NotEmpty(t, res.RunID)
		})
	}
}

func TestRunTestsCapturesOutput(t *testing.T) {
	res, err := RunTests(context.Background(), TestConfig{
		Command: []string{"sh", "-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)
	require.Equal(t, "out", strings.TrimSpace(string(res.Stdout)))
	require.Equal(t, "err", strings.TrimSpace(string(res.Stderr)))
	require.False(t, res.Truncated)
}

func TestRunTestsTruncatesOutput(t *testing.T) {
	res, err := RunTests(context.Background(), TestConfig{
		Command:     []string{"sh", "-c", "printf '%0.s-' $(seq 1 100)"},
		OutputLimit: 10,
	})
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Len(t, res.Stdout, 10)
}

func TestRunTestsParsesSummary(t *testing.T) {
	res, err := RunTests(context.Background(), TestConfig{
		Command: []string{
			"sh", "-c",
			`echo 'some log line'; echo '{"status_code": 250, "message": "Message accepted for delivery"}'`,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	require.Equal(t, 250, res.Summary.StatusCode)
	require.Equal(t, "Message accepted for delivery", res.Summary.Message)
}

func TestRunTestsNoSummary(t *testing.T) {
	res, err := RunTests(context.Background(), TestConfig{
		Command: []string{"sh", "-c", "echo 'ran 12 tests'"},
	})
	require.NoError(t, err)
	require.Nil(t, res.Summary)
}

func TestRunTestsTimeout(t *testing.T) {
	start := time.Now()
	_, err := RunTests(context.Background(), TestConfig{
		Command: []string{"sleep", "30"},
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRunTestsMissingCommand(t *testing.T) {
	res, err := RunTests(context.Background(), TestConfig{
		Command: []string{"./no-such-test-suite"},
	})
	require.Error(t, err)
	require.Equal(t, -1, res.ExitCode)
}
