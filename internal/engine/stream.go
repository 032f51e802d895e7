package engine

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// errStreamClosed stops a pump once the consumer closed the stream.
var errStreamClosed = errors.New("log stream closed")

// lineStream turns raw engine output into LogRecords. A single pump
// goroutine writes into per-kind line splitters; Recv drains the records.
type lineStream struct {
	records   chan LogRecord
	done      chan struct{}
	closeOnce sync.Once
	closer    func() error

	mu  sync.Mutex
	err error
}

// newLineStream starts pump in the background. pump copies engine output
// into the writer for each kind and returns when the output ends. closer
// must unblock a pump stuck in a read.
func newLineStream(pump func(out func(LogKind) io.Writer) error, closer func() error) *lineStream {
	s := &lineStream{
		records: make(chan LogRecord),
		done:    make(chan struct{}),
		closer:  closer,
	}

	go func() {
		defer close(s.records)

		writers := map[LogKind]*lineWriter{
			Stdout: {stream: s, kind: Stdout},
			Stderr: {stream: s, kind: Stderr},
		}
		err := pump(func(k LogKind) io.Writer { return writers[k] })
		for _, k := range []LogKind{Stdout, Stderr} {
			writers[k].flush()
		}

		if err != nil && !errors.Is(err, errStreamClosed) && !s.isClosed() {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return s
}

func (s *lineStream) Recv() (LogRecord, error) {
	rec, ok := <-s.records
	if ok {
		return rec, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return LogRecord{}, s.err
	}
	return LogRecord{}, io.EOF
}

func (s *lineStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer()
		}
	})
	return err
}

func (s *lineStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *lineStream) emit(kind LogKind, line []byte) error {
	rec := LogRecord{Kind: kind, Line: bytes.Clone(line)}
	select {
	case s.records <- rec:
		return nil
	case <-s.done:
		return errStreamClosed
	}
}

// lineWriter splits written bytes on newlines. Not safe for concurrent use;
// each kind gets its own writer.
type lineWriter struct {
	stream *lineStream
	kind   LogKind
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		line := bytes.TrimRight(data[:idx], "\r")
		if err := w.stream.emit(w.kind, line); err != nil {
			return 0, err
		}
		w.buf.Next(idx + 1)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.buf.Len() == 0 {
		return
	}
	line := bytes.TrimRight(w.buf.Bytes(), "\r")
	_ = w.stream.emit(w.kind, line)
	w.buf.Reset()
}

// sliceStream replays fixed records. Used by fakes and for empty outputs.
type sliceStream struct {
	mu      sync.Mutex
	records []LogRecord
	closed  bool
}

// NewSliceStream returns a LogStream that yields records then io.EOF.
func NewSliceStream(records ...LogRecord) LogStream {
	return &sliceStream{records: records}
}

func (s *sliceStream) Recv() (LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.records) == 0 {
		return LogRecord{}, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
