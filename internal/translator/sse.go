package translator

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE writes one event in text/event-stream framing.
func WriteSSE(w io.Writer, ev SSEEvent) error {
	data := []byte(ev.Raw)
	if ev.Raw == "" {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal SSE payload: %w", err)
		}
	}
	if ev.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
			return fmt.Errorf("write SSE event name: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
