package mesos

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"unicode/utf16"
	"unicode/utf8"
)

// File is a handle to one append-only remote file served by files/read.json.
// File is safe for concurrent use.
type File struct {
	client *Client
	base   string
	path   string
	owner  string // "master" or the slave ID

	mu   sync.Mutex
	size int64 // last observed size
}

// readResponse is one files/read.json answer. Data holds the raw file bytes,
// which need not be valid UTF-8.
type readResponse struct {
	Data   rawString `json:"data"`
	Offset int64     `json:"offset"`
}

// rawString is a JSON string decoded byte for byte. Unlike a Go string field
// it keeps invalid UTF-8 as is instead of replacing it with U+FFFD.
type rawString []byte

func (s *rawString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = nil
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("expected a JSON string, got %.32s", b)
	}
	b = b[1 : len(b)-1]

	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i == len(b) {
			return errors.New("truncated escape in JSON string")
		}
		switch b[i] {
		case '"', '\\', '/':
			out = append(out, b[i])
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			r, ok := hex4(b[i+1:])
			if !ok {
				return errors.New("invalid \\u escape in JSON string")
			}
			i += 4
			if utf16.IsSurrogate(r) {
				low, ok := escapedRune(b[i+1:])
				if dec := utf16.DecodeRune(r, low); ok && dec != utf8.RuneError {
					r = dec
					i += 6
				} else {
					r = utf8.RuneError
				}
			}
			out = utf8.AppendRune(out, r)
		default:
			return fmt.Errorf("invalid escape \\%c in JSON string", b[i])
		}
	}
	*s = out
	return nil
}

// escapedRune reads a \uXXXX escape at the start of b.
func escapedRune(b []byte) (rune, bool) {
	if len(b) < 6 || b[0] != '\\' || b[1] != 'u' {
		return 0, false
	}
	return hex4(b[2:])
}

func hex4(b []byte) (rune, bool) {
	if len(b) < 4 {
		return 0, false
	}
	n, err := strconv.ParseUint(string(b[:4]), 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}

// MasterFile returns a handle to a file on the leading master.
func (c *Client) MasterFile(path string) *File {
	return &File{
		client: c,
		base:   c.masterURL,
		path:   path,
		owner:  "master",
	}
}

// SlaveFile returns a handle to a file on the given slave.
func (c *Client) SlaveFile(s Slave, path string) (*File, error) {
	base, err := c.slaveBaseURL(s)
	if err != nil {
		return nil, err
	}
	return &File{
		client: c,
		base:   base,
		path:   path,
		owner:  s.ID,
	}, nil
}

// String identifies the file in multi-file output headers.
func (f *File) String() string {
	return f.owner + ":" + f.path
}

// Path returns the path of the file on its node.
func (f *File) Path() string {
	return f.path
}

// Size fetches the current file size and records it as the last observed size.
func (f *File) Size(ctx context.Context) (int64, error) {
	params := url.Values{}
	params.Set("path", f.path)
	params.Set("offset", "-1")

	var resp readResponse
	if err := f.client.getJSON(ctx, f.base, "files/read.json", params, &resp); err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.size = resp.Offset
	f.mu.Unlock()

	return resp.Offset, nil
}

// Read returns up to length bytes starting at offset. The offset must not
// exceed the size observed by the last call to Size. Short responses are
// continued until length bytes are read or the server has no more data.
func (f *File) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	size := f.size
	f.mu.Unlock()

	if offset < 0 || length < 0 || offset > size {
		return nil, &RangeError{Path: f.path, Offset: offset, Length: length, Size: size}
	}

	out := make([]byte, 0, length)
	for int64(len(out)) < length {
		params := url.Values{}
		params.Set("path", f.path)
		params.Set("offset", strconv.FormatInt(offset+int64(len(out)), 10))
		params.Set("length", strconv.FormatInt(length-int64(len(out)), 10))

		var resp readResponse
		if err := f.client.getJSON(ctx, f.base, "files/read.json", params, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			break
		}
		if want := length - int64(len(out)); int64(len(resp.Data)) > want {
			f.client.logger.Warn("%s: asked for %d bytes at offset %d, got %d", f, want, offset+int64(len(out)), len(resp.Data))
		}
		out = append(out, resp.Data...)
	}

	if int64(len(out)) > length {
		out = out[:length]
	}
	return out, nil
}
