package audit

import (
	"context"
	"encoding/json"
	"os"
)

// LogSink writes each Record as one JSON line, newline-delimited, to the
// file named by LOG_PATH (default "ndjson.log"), or to stdout when
// LOG_PATH is "stdout" — the default/always-available sink.
type LogSink struct {
	dst string
	f   *os.File
}

// NewLogSink reads LOG_PATH from the environment, defaulting to
// "ndjson.log".
func NewLogSink() *LogSink {
	dst := os.Getenv("LOG_PATH")
	if dst == "" {
		dst = "ndjson.log"
	}
	return &LogSink{dst: dst}
}

func (s *LogSink) Start(ctx context.Context) error {
	if s.dst == "stdout" {
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *LogSink) Enqueue(r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if s.f != nil {
		_, err := s.f.Write(b)
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

func (s *LogSink) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *LogSink) Name() string { return "log" }
