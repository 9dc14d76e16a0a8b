package genai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errStreamDone is returned by the event callback to end a stream
// cleanly once the terminal sentinel arrives.
var errStreamDone = errors.New("stream done")

// readSSE consumes a server-sent-events body, invoking onEvent per
// event. A mid-stream transport error is surfaced to the caller so
// the stream never silently truncates.
func readSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		ev := eventName
		eventName = ""
		if onEvent == nil {
			return nil
		}
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if flushErr := flush(); flushErr != nil && !errors.Is(flushErr, errStreamDone) {
					return flushErr
				}
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		// Blank line ends an event.
		if line == "" {
			if err := flush(); err != nil {
				if errors.Is(err, errStreamDone) {
					return nil
				}
				return err
			}
			continue
		}

		// Comment.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}
}
