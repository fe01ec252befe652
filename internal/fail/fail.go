// Package fail implements the node's single policy for unrecoverable
// invariant violations: log at Fatal and terminate the process rather than
// continue with possibly corrupted state. It intentionally does not use a
// bare panic, since a panic can be caught by a recover() higher up the
// call stack — an invariant violation must not be swallowed.
package fail

import (
	"os"

	"github.com/sirupsen/logrus"
)

// exit is swapped out in tests so Invariant can be exercised without
// killing the test binary.
var exit = os.Exit

// Invariant reports that an invariant the implementation relies on for
// correctness has been violated and terminates the process. Callers
// should only reach this for conditions the design treats as impossible
// during correct operation (negative balances, underflowed counters,
// storage corruption) — never for ordinary validation failures, which
// must return an error instead.
func Invariant(logger *logrus.Logger, msg string, fields logrus.Fields) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(fields).Log(logrus.FatalLevel, "invariant violation: "+msg)
	exit(1)
}
