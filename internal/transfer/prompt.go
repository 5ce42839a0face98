package transfer

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/term"

	"resumexfer/internal/logging"
)

// confirmPrompt is swapped out in tests so mismatch/overwrite paths can
// be exercised without blocking on a real stdin.
var confirmPrompt = confirmOverwrite

// confirmOverwrite shows the boxed warning banner and blocks on a y/n
// answer from the local operator, used by both the §4.3.c hash-mismatch
// prompt and the §4.4.3 size-anomaly prompt. It degrades to buffered
// stdin when stdin isn't a real terminal (e.g. under a test harness or
// a piped invocation) rather than failing outright.
func confirmOverwrite(message string) bool {
	logging.Warning(message + " (y/n)")

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		return readYesNoRaw(fd)
	}
	return readYesNoBuffered()
}

func readYesNoBuffered() bool {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func readYesNoRaw(fd int) bool {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return readYesNoBuffered()
	}
	defer term.Restore(fd, state)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false
	}
	return buf[0] == 'y' || buf[0] == 'Y'
}
