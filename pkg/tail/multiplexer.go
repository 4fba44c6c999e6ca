package tail

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dcos/dcos-node/pkg/logger"
)

// Request describes one tail run.
type Request struct {
	Lines  int          // lines of history per file
	Follow bool         // keep polling for appended data
	Files  []RemoteFile // in output order
}

// Multiplexer tails several files into one writer. Blocks from different
// files never interleave. Each file's bytes appear in file order.
type Multiplexer struct {
	out  io.Writer
	opts Options
	log  *logger.Logger

	mu       sync.Mutex // serializes writes to out
	lastByte byte
}

// NewMultiplexer creates a Multiplexer writing to out.
func NewMultiplexer(out io.Writer, opts Options) *Multiplexer {
	opts = opts.withDefaults()
	return &Multiplexer{
		out:      out,
		opts:     opts,
		log:      opts.Logger,
		lastByte: '\n',
	}
}

type initialResult struct {
	data []byte
	err  error
}

// Run prints the last req.Lines lines of every file, then follows them if
// req.Follow is set. Files that cannot be read at first contact are logged
// and skipped. When only one file was requested its error is returned as
// is. Run returns ErrNoFiles once no file is left to read, and ctx.Err()
// when cancelled during follow.
func (m *Multiplexer) Run(ctx context.Context, req Request) error {
	if len(req.Files) == 0 {
		return ErrNoFiles
	}
	headers := len(req.Files) > 1

	tailers := make([]*Tailer, len(req.Files))
	results := make([]initialResult, len(req.Files))

	var wg sync.WaitGroup
	for i, f := range req.Files {
		tailers[i] = NewTailer(f, m.opts)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := tailers[i].Initial(ctx, req.Lines)
			results[i] = initialResult{data: data, err: err}
		}(i)
	}
	wg.Wait()

	live := make([]*Tailer, 0, len(tailers))
	for i, t := range tailers {
		if err := results[i].err; err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !headers {
				return err
			}
			m.log.WithField("source", t.Label()).Error("%v", err)
			continue
		}
		if err := m.write(t.Label(), results[i].data, headers); err != nil {
			return err
		}
		live = append(live, t)
	}

	if len(live) == 0 {
		return ErrNoFiles
	}
	if !req.Follow {
		return nil
	}

	return m.follow(ctx, live, headers)
}

func (m *Multiplexer) follow(ctx context.Context, live []*Tailer, headers bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range live {
		t := t
		g.Go(func() error {
			err := t.Follow(ctx, func(data []byte) error {
				return m.write(t.Label(), data, headers)
			})

			var ee *ExhaustedError
			if errors.As(err, &ee) {
				m.log.WithField("source", t.Label()).Error("%v", err)
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// every follower gave up
	return ErrNoFiles
}

// write emits one block. With headers on, the block is preceded by the
// source label, on a fresh line if the previous block ended mid-line.
func (m *Multiplexer) write(label string, data []byte, headers bool) error {
	if len(data) == 0 && !headers {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var buf []byte
	if headers {
		if m.lastByte != '\n' {
			buf = append(buf, '\n')
		}
		buf = append(buf, "===> "...)
		buf = append(buf, label...)
		buf = append(buf, " <===\n"...)
	}
	buf = append(buf, data...)

	if _, err := m.out.Write(buf); err != nil {
		return err
	}
	m.lastByte = buf[len(buf)-1]
	return nil
}
