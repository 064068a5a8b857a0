package output

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// NDJSONSink emits one JSON object per line, suitable for piping into log
// collectors.
type NDJSONSink struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewNDJSONSink(w io.Writer) *NDJSONSink {
	if w == nil {
		w = os.Stdout
	}
	return &NDJSONSink{encoder: json.NewEncoder(w)}
}

func (s *NDJSONSink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder.Encode(e)
}

func (s *NDJSONSink) Close() error {
	return nil
}
