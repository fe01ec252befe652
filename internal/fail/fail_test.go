package fail

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInvariantLogsAndExits(t *testing.T) {
	var code int
	called := false
	orig := exit
	exit = func(c int) { called = true; code = c }
	defer func() { exit = orig }()

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	Invariant(logger, "balance underflow", logrus.Fields{"account": "0xabc"})

	require.True(t, called, "Invariant must terminate the process")
	require.Equal(t, 1, code)
	require.Contains(t, buf.String(), "invariant violation: balance underflow")
}
