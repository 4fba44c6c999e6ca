package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dcos/dcos-node/pkg/logger"
)

// memFile is an in-memory RemoteFile.
type memFile struct {
	name string

	mu        sync.Mutex
	data      []byte
	fail      int // fail this many upcoming calls
	broken    bool
	delay     time.Duration
	bytesRead int64
}

func newMemFile(name, content string) *memFile {
	return &memFile{name: name, data: []byte(content)}
}

func (f *memFile) String() string { return f.name }

func (f *memFile) failure() error {
	if f.broken {
		return errors.New("unreachable")
	}
	if f.fail > 0 {
		f.fail--
		return errors.New("temporary failure")
	}
	return nil
}

func (f *memFile) Size(ctx context.Context) (int64, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(); err != nil {
		return 0, err
	}
	return int64(len(f.data)), nil
}

func (f *memFile) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(); err != nil {
		return nil, err
	}
	if offset < 0 || offset > int64(len(f.data)) {
		return nil, fmt.Errorf("offset %d out of range", offset)
	}
	end := offset + length
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	f.bytesRead += end - offset
	return append([]byte(nil), f.data[offset:end]...), nil
}

func (f *memFile) set(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = []byte(content)
}

func (f *memFile) append(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, content...)
}

func (f *memFile) setFail(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = n
}

func (f *memFile) setBroken(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = b
}

// tickClock fires only when the test sends a tick.
type tickClock struct {
	ch chan time.Time
}

func newTickClock() *tickClock {
	return &tickClock{ch: make(chan time.Time)}
}

func (c *tickClock) After(time.Duration) <-chan time.Time { return c.ch }

func (c *tickClock) tick() { c.ch <- time.Time{} }

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func numberedLines(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s line %d\n", prefix, i)
	}
	return b.String()
}

func TestParseLines(t *testing.T) {
	tests := []struct {
		input string
		want  int
		err   bool
	}{
		{"10", 10, false},
		{"0", 0, false},
		{"250", 250, false},
		{"ten", 0, true},
		{"", 0, true},
		{"-3", 0, true},
		{"1.5", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLines(tt.input)
		if (err != nil) != tt.err {
			t.Errorf("ParseLines(%q) error state: %v", tt.input, err)
			continue
		}
		if tt.err {
			var ie *InvalidInputError
			if !errors.As(err, &ie) {
				t.Errorf("ParseLines(%q): expected InvalidInputError, got %T", tt.input, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLines(%q) = %d, expected %d", tt.input, got, tt.want)
		}
	}

	_, err := ParseLines("ten")
	if err.Error() != "Error parsing string as int" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestInitialLastLines(t *testing.T) {
	tenLines := numberedLines("x", 10)
	tests := []struct {
		name    string
		content string
		n       int
		want    string
	}{
		{"trailing newline", "a\nb\nc\n", 2, "b\nc\n"},
		{"no trailing newline", "a\nb\nc", 2, "b\nc"},
		{"fewer lines than requested", "a\nb\nc\n", 10, "a\nb\nc\n"},
		{"exact count", "a\nb\nc\n", 3, "a\nb\nc\n"},
		{"single line", "only\n", 1, "only\n"},
		{"empty file", "", 3, ""},
		{"zero lines", "a\nb\n", 0, ""},
		{"blank lines", "\n\n\n", 2, "\n\n"},
		{"last four of ten", tenLines, 4, numberedLines("x", 10)[len(numberedLines("x", 6)):]},
	}

	for _, chunk := range []int64{1, 3, 7, 4096} {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s/chunk=%d", tt.name, chunk), func(t *testing.T) {
				tl := NewTailer(newMemFile("f", tt.content), Options{InitialChunk: chunk})
				got, err := tl.Initial(context.Background(), tt.n)
				if err != nil {
					t.Fatal(err)
				}
				if string(got) != tt.want {
					t.Errorf("expected %q, got %q", tt.want, got)
				}
				if tl.Offset() != int64(len(tt.content)) {
					t.Errorf("expected cursor at %d, got %d", len(tt.content), tl.Offset())
				}
			})
		}
	}
}

func TestInitialFourLinesOfTen(t *testing.T) {
	f := newMemFile("f", "1\n2\n3\n4\n")
	got, err := NewTailer(f, Options{}).Initial(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1\n2\n3\n4\n" {
		t.Errorf("expected the whole file, got %q", got)
	}
}

func TestInitialReadsOnlyTheTail(t *testing.T) {
	f := newMemFile("big", strings.Repeat("0123456789abcdef\n", 64<<10))
	got, err := NewTailer(f, Options{}).Initial(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != strings.Repeat("0123456789abcdef\n", 3) {
		t.Errorf("unexpected tail %q", got)
	}
	if f.bytesRead > DefaultInitialChunk {
		t.Errorf("expected a single chunk read, read %d bytes", f.bytesRead)
	}
}

func TestInitialIsIdempotent(t *testing.T) {
	content := numberedLines("y", 50)
	f := newMemFile("f", content)

	first, err := NewTailer(f, Options{InitialChunk: 16}).Initial(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewTailer(f, Options{InitialChunk: 16}).Initial(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("repeated tails differ: %q vs %q", first, second)
	}
	if !strings.HasSuffix(content, string(first)) {
		t.Errorf("tail is not a suffix of the file: %q", first)
	}
}

func TestInitialError(t *testing.T) {
	f := newMemFile("f", "a\n")
	f.setBroken(true)
	if _, err := NewTailer(f, Options{}).Initial(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
}

func startFollow(t *testing.T, tl *Tailer) (<-chan []byte, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan []byte, 16)
	done := make(chan error, 1)
	go func() {
		done <- tl.Follow(ctx, func(data []byte) error {
			chunks <- data
			return nil
		})
	}()
	return chunks, done, cancel
}

func expectChunk(t *testing.T, chunks <-chan []byte, want string) {
	t.Helper()
	select {
	case got := <-chunks:
		if string(got) != want {
			t.Fatalf("expected chunk %q, got %q", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for chunk %q", want)
	}
}

func expectNoChunk(t *testing.T, chunks <-chan []byte) {
	t.Helper()
	select {
	case got := <-chunks:
		t.Fatalf("unexpected chunk %q", got)
	default:
	}
}

func TestFollowEmitsAppendedBytes(t *testing.T) {
	f := newMemFile("f", "old\n")
	clock := newTickClock()
	tl := NewTailer(f, Options{Clock: clock})
	if _, err := tl.Initial(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	chunks, done, cancel := startFollow(t, tl)

	f.append("new 1\n")
	clock.tick()
	expectChunk(t, chunks, "new 1\n")

	// Partial lines go out as they are
	f.append("par")
	clock.tick()
	expectChunk(t, chunks, "par")
	f.append("tial\n")
	clock.tick()
	expectChunk(t, chunks, "tial\n")

	// Nothing new, nothing emitted; the next tick proves the poll finished
	clock.tick()
	clock.tick()
	expectNoChunk(t, chunks)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if tl.Offset() != int64(len("old\nnew 1\npartial\n")) {
		t.Errorf("unexpected final offset %d", tl.Offset())
	}
}

func TestFollowResetsOnTruncation(t *testing.T) {
	f := newMemFile("f", "aaaa\nbbbb\n")
	clock := newTickClock()
	tl := NewTailer(f, Options{Clock: clock})
	if _, err := tl.Initial(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	chunks, done, cancel := startFollow(t, tl)
	defer func() {
		cancel()
		<-done
	}()

	f.set("cc\n")
	clock.tick()
	clock.tick()
	expectNoChunk(t, chunks)
	if tl.Offset() != 3 {
		t.Fatalf("expected cursor reset to 3, got %d", tl.Offset())
	}

	f.append("dd\n")
	clock.tick()
	expectChunk(t, chunks, "dd\n")
}

func TestFollowRetriesThenGivesUp(t *testing.T) {
	f := newMemFile("flaky", "")
	clock := newTickClock()
	tl := NewTailer(f, Options{Clock: clock, MaxFailures: 3})
	if _, err := tl.Initial(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	chunks, done, cancel := startFollow(t, tl)
	defer cancel()

	// Two failures then a success resets the count
	f.setFail(2)
	f.append("after retry\n")
	clock.tick()
	clock.tick()
	clock.tick()
	expectChunk(t, chunks, "after retry\n")

	f.setBroken(true)
	for i := 0; i < 3; i++ {
		clock.tick()
	}

	select {
	case err := <-done:
		var ee *ExhaustedError
		if !errors.As(err, &ee) {
			t.Fatalf("expected ExhaustedError, got %v", err)
		}
		if ee.Failures != 3 || ee.Source != "flaky" {
			t.Errorf("unexpected exhaustion %+v", ee)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not give up")
	}
}

func TestFollowStopsOnEmitError(t *testing.T) {
	f := newMemFile("f", "")
	clock := newTickClock()
	tl := NewTailer(f, Options{Clock: clock})

	sinkErr := errors.New("broken pipe")
	done := make(chan error, 1)
	go func() {
		done <- tl.Follow(context.Background(), func([]byte) error { return sinkErr })
	}()

	f.append("x\n")
	clock.tick()
	if err := <-done; !errors.Is(err, sinkErr) {
		t.Errorf("expected sink error, got %v", err)
	}
}

func TestMultiplexerSingleSourceHasNoHeader(t *testing.T) {
	var out bytes.Buffer
	mux := NewMultiplexer(&out, Options{})
	err := mux.Run(context.Background(), Request{
		Lines: 2,
		Files: []RemoteFile{newMemFile("master:/master/log", "a\nb\nc\n")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "b\nc\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestMultiplexerHeadersInRequestOrder(t *testing.T) {
	master := newMemFile("master:/master/log", numberedLines("master", 30))
	slave := newMemFile("S0:/slave/log", numberedLines("slave", 30))
	// The first source answers last but is still printed first
	master.delay = 50 * time.Millisecond

	var out bytes.Buffer
	err := NewMultiplexer(&out, Options{}).Run(context.Background(), Request{
		Lines: 10,
		Files: []RemoteFile{master, slave},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "===> master:/master/log <===\n" + numberedLines("master", 30)[len(numberedLines("master", 20)):] +
		"===> S0:/slave/log <===\n" + numberedLines("slave", 30)[len(numberedLines("slave", 20)):]
	if out.String() != want {
		t.Errorf("unexpected output:\n%s\nexpected:\n%s", out.String(), want)
	}
	if strings.Count(out.String(), "===>") != 2 {
		t.Errorf("expected 2 headers")
	}
	if strings.Count(out.String(), "\n") != 22 {
		t.Errorf("expected 20 lines plus 2 headers, got %d lines", strings.Count(out.String(), "\n"))
	}
}

func TestMultiplexerHeaderStartsOnFreshLine(t *testing.T) {
	var out bytes.Buffer
	err := NewMultiplexer(&out, Options{}).Run(context.Background(), Request{
		Lines: 1,
		Files: []RemoteFile{newMemFile("a", "no newline"), newMemFile("b", "b\n")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "===> a <===\nno newline\n===> b <===\nb\n"
	if out.String() != want {
		t.Errorf("expected %q, got %q", want, out.String())
	}
}

func TestMultiplexerSkipsUnreachableSource(t *testing.T) {
	bad := newMemFile("S1:/slave/log", "")
	bad.setBroken(true)

	var out, logs bytes.Buffer
	err := NewMultiplexer(&out, Options{Logger: logger.NewWriter(&logs, logger.ERROR)}).Run(context.Background(), Request{
		Lines: 1,
		Files: []RemoteFile{bad, newMemFile("master:/master/log", "m\n")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "===> master:/master/log <===\nm\n" {
		t.Errorf("unexpected output %q", out.String())
	}
	if !strings.Contains(logs.String(), "[ERROR] source=S1:/slave/log unreachable") {
		t.Errorf("expected the failure to be logged, got %q", logs.String())
	}
}

func TestMultiplexerAllSourcesUnreachable(t *testing.T) {
	a, b := newMemFile("a", ""), newMemFile("b", "")
	a.setBroken(true)
	b.setBroken(true)

	var out bytes.Buffer
	err := NewMultiplexer(&out, Options{}).Run(context.Background(), Request{Lines: 1, Files: []RemoteFile{a, b}})
	if !errors.Is(err, ErrNoFiles) {
		t.Fatalf("expected ErrNoFiles, got %v", err)
	}
	if err.Error() != "No files exist. Exiting." {
		t.Errorf("unexpected message %q", err.Error())
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestMultiplexerSingleSourceErrorSurfaces(t *testing.T) {
	f := newMemFile("master:/master/log", "")
	f.setBroken(true)

	var out bytes.Buffer
	err := NewMultiplexer(&out, Options{}).Run(context.Background(), Request{Lines: 1, Files: []RemoteFile{f}})
	if err == nil || errors.Is(err, ErrNoFiles) || err.Error() != "unreachable" {
		t.Fatalf("expected the source error, got %v", err)
	}
}

func TestMultiplexerNoFiles(t *testing.T) {
	if err := NewMultiplexer(&bytes.Buffer{}, Options{}).Run(context.Background(), Request{}); !errors.Is(err, ErrNoFiles) {
		t.Errorf("expected ErrNoFiles, got %v", err)
	}
}

func TestMultiplexerFollowSurvivesExhaustedSibling(t *testing.T) {
	master := newMemFile("master:/master/log", "m0\n")
	slave := newMemFile("S0:/slave/log", "s0\n")

	out := &syncBuffer{}
	mux := NewMultiplexer(out, Options{PollInterval: time.Millisecond, MaxFailures: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mux.Run(ctx, Request{Lines: 1, Follow: true, Files: []RemoteFile{master, slave}})
	}()

	waitFor(t, "initial tails", func() bool { return strings.Contains(out.String(), "s0\n") })
	slave.setBroken(true)

	master.append("m1\n")
	waitFor(t, "master follow chunk", func() bool { return strings.Contains(out.String(), "m1\n") })

	// Let the slave exhaust, then the master must still be followed
	time.Sleep(50 * time.Millisecond)
	master.append("m2\n")
	waitFor(t, "master after sibling gave up", func() bool { return strings.Contains(out.String(), "m2\n") })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	got := out.String()
	if !strings.HasPrefix(got, "===> master:/master/log <===\nm0\n===> S0:/slave/log <===\ns0\n") {
		t.Errorf("unexpected initial output %q", got)
	}
	if !strings.Contains(got, "===> master:/master/log <===\nm1\n") {
		t.Errorf("follow chunk without header: %q", got)
	}
}

func TestMultiplexerFollowAllExhausted(t *testing.T) {
	a, b := newMemFile("a", "a\n"), newMemFile("b", "b\n")

	out := &syncBuffer{}
	mux := NewMultiplexer(out, Options{PollInterval: time.Millisecond, MaxFailures: 2})

	done := make(chan error, 1)
	go func() {
		done <- mux.Run(context.Background(), Request{Lines: 1, Follow: true, Files: []RemoteFile{a, b}})
	}()

	waitFor(t, "initial tails", func() bool { return strings.Contains(out.String(), "b\n") })
	a.setBroken(true)
	b.setBroken(true)

	select {
	case err := <-done:
		if !errors.Is(err, ErrNoFiles) {
			t.Errorf("expected ErrNoFiles, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after every source gave up")
	}
}
