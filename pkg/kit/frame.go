package kit

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/officekit/wsdbroker/internal/logger"
)

// binaryPayloadPrefixes are the line prefixes that carry a raw-byte
// payload after the line itself: a preceding "nbytes=<N>" token on the
// line tells the reader how many bytes of pixel data follow.
var binaryPayloadPrefixes = []string{"tile:", "tilecombine:", "renderfont:"}

func hasBinaryPayload(line string) (n int, ok bool) {
	matched := false
	for _, prefix := range binaryPayloadPrefixes {
		if strings.HasPrefix(line, prefix) {
			matched = true
			break
		}
	}
	if !matched {
		return 0, false
	}

	for _, tok := range strings.Fields(line) {
		if val, found := strings.CutPrefix(tok, "nbytes="); found {
			if n, err := strconv.Atoi(val); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// readLoop is the dedicated reader goroutine: the only goroutine per kit
// process besides the owning broker's poll-loop goroutine. It parses
// frames off the kit's stdout and pushes them onto the bounded output
// channel for the poll loop to drain.
func (p *Process) readLoop(r *bufio.Reader, docKey string) {
	defer close(p.output)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				logger.Warn("kit stdout read failed", logger.KeyDocKey, docKey, logger.KeyKitPID, p.PID())
			}
			return
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		frame := Frame{Line: line}

		if n, ok := hasBinaryPayload(line); ok && n > 0 {
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				logger.Warn("kit payload read failed", logger.KeyDocKey, docKey, logger.KeyKitPID, p.PID())
				return
			}
			frame.Payload = buf
		}

		select {
		case p.output <- frame:
		case <-p.stopCh:
			return
		}
	}
}
