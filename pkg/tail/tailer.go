// Package tail implements "tail -n N [-f]" over remote, append-only files
// that only offer a size query and ranged reads.
//
// A Tailer handles one file. A Multiplexer runs one Tailer per file and
// writes their output to a single sink, labelling each block with a
// "===> label <===" header when more than one file is requested.
//
// Example Usage:
//
//	mux := tail.NewMultiplexer(os.Stdout, tail.Options{PollInterval: time.Second})
//	err := mux.Run(ctx, tail.Request{
//	    Lines:  10,
//	    Follow: true,
//	    Files:  []tail.RemoteFile{masterLog, slaveLog},
//	})
package tail

import (
	"context"
	"fmt"
	"time"

	"github.com/dcos/dcos-node/pkg/logger"
)

// Defaults used when Options fields are zero.
const (
	DefaultPollInterval = time.Second
	DefaultMaxFailures  = 5
	DefaultInitialChunk = 4 << 10
	DefaultMaxChunk     = 1 << 20
)

// RemoteFile is a growth-only file addressed by byte offsets.
type RemoteFile interface {
	// Size returns the current length of the file.
	Size(ctx context.Context) (int64, error)
	// Read returns up to length bytes at offset. offset must not exceed
	// the size returned by the last Size call.
	Read(ctx context.Context, offset, length int64) ([]byte, error)
	// String labels the file in output headers.
	String() string
}

// Clock abstracts the poll wait so tests can drive follow mode.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Options tunes tailing. Zero values select the defaults.
type Options struct {
	PollInterval time.Duration
	MaxFailures  int
	InitialChunk int64
	MaxChunk     int64
	Clock        Clock
	Logger       *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	if o.InitialChunk <= 0 {
		o.InitialChunk = DefaultInitialChunk
	}
	if o.MaxChunk < o.InitialChunk {
		o.MaxChunk = DefaultMaxChunk
		if o.MaxChunk < o.InitialChunk {
			o.MaxChunk = o.InitialChunk
		}
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	return o
}

// Tailer tails a single RemoteFile. A Tailer is not safe for concurrent use.
type Tailer struct {
	file   RemoteFile
	opts   Options
	log    *logger.Entry
	cursor int64 // bytes of the file already accounted for
}

// NewTailer creates a Tailer for f.
func NewTailer(f RemoteFile, opts Options) *Tailer {
	opts = opts.withDefaults()
	return &Tailer{
		file: f,
		opts: opts,
		log:  opts.Logger.WithField("source", f.String()),
	}
}

// Label returns the file's header label.
func (t *Tailer) Label() string {
	return t.file.String()
}

// Offset returns the position up to which the file has been emitted.
func (t *Tailer) Offset() int64 {
	return t.cursor
}

// Initial returns the last n lines of the file and moves the cursor to its
// end. A newline at the very end terminates the last line. Fewer than n
// lines yield the whole file. The file is read backwards in doubling chunks
// so a small n never transfers a large file.
func (t *Tailer) Initial(ctx context.Context, n int) ([]byte, error) {
	size, err := t.file.Size(ctx)
	if err != nil {
		return nil, err
	}
	t.cursor = size
	t.log.Debug("size %d, reading last %d lines", size, n)

	if size == 0 || n <= 0 {
		return nil, nil
	}

	var tail []byte // holds [pos, size)
	pos := size
	chunk := t.opts.InitialChunk
	found := 0

	for pos > 0 {
		start := pos - chunk
		if start < 0 {
			start = 0
		}

		buf, err := t.file.Read(ctx, start, pos-start)
		if err != nil {
			return nil, err
		}
		if int64(len(buf)) != pos-start {
			return nil, fmt.Errorf("short read of %s at offset %d: got %d of %d bytes", t.file, start, len(buf), pos-start)
		}

		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i] != '\n' || start+int64(i) == size-1 {
				continue
			}
			found++
			if found == n {
				out := make([]byte, 0, len(buf)-i-1+len(tail))
				out = append(out, buf[i+1:]...)
				return append(out, tail...), nil
			}
		}

		tail = append(buf, tail...)
		pos = start
		if chunk < t.opts.MaxChunk {
			chunk *= 2
			if chunk > t.opts.MaxChunk {
				chunk = t.opts.MaxChunk
			}
		}
	}

	return tail, nil
}

// Follow polls the file every PollInterval and calls emit with each run of
// newly appended bytes, verbatim. A shrinking file resets the cursor to the
// new size without output. Follow returns ctx.Err() on cancellation, the
// emit error if emit fails, or an *ExhaustedError after MaxFailures
// consecutive failed polls.
func (t *Tailer) Follow(ctx context.Context, emit func([]byte) error) error {
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.opts.Clock.After(t.opts.PollInterval):
		}

		data, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			t.log.WithField("attempt", failures).Warn("poll failed: %v", err)
			if failures >= t.opts.MaxFailures {
				return &ExhaustedError{Source: t.file.String(), Failures: failures, Err: err}
			}
			continue
		}
		failures = 0

		if len(data) > 0 {
			if err := emit(data); err != nil {
				return err
			}
		}
	}
}

// poll returns the bytes appended since the last poll.
func (t *Tailer) poll(ctx context.Context) ([]byte, error) {
	size, err := t.file.Size(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case size < t.cursor:
		t.log.Info("file shrank from %d to %d bytes, resetting", t.cursor, size)
		t.cursor = size
		return nil, nil
	case size == t.cursor:
		return nil, nil
	}

	data, err := t.file.Read(ctx, t.cursor, size-t.cursor)
	if err != nil {
		return nil, err
	}
	t.cursor += int64(len(data))
	return data, nil
}
