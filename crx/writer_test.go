package crx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/storacha/go-crx3/crxid"
	"github.com/storacha/go-crx3/header"
	"github.com/storacha/go-crx3/keypair"
	"github.com/storacha/go-crx3/principal/rsa/signer"
	"github.com/storacha/go-crx3/testing/fixtures"
	"github.com/storacha/go-crx3/testing/helpers"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memSink is an in-memory Sink that can be told to fail.
type memSink struct {
	mu        sync.Mutex
	buf       []byte
	writes    int
	failAfter int // fail the write after this many succeeded, when > 0
	failSync  bool
	synced    int
	closed    bool
}

func (s *memSink) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	if s.failAfter > 0 && s.writes >= s.failAfter {
		return 0, errors.New("disk full")
	}
	s.writes++
	if end := int(off) + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[off:], p)
	return len(p), nil
}

func (s *memSink) Sync() error {
	if s.failSync {
		return errors.New("sync failed")
	}
	s.synced++
	return nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func alice() *keypair.KeyPair {
	return &keypair.KeyPair{Signer: fixtures.Alice}
}

func writeAll(t *testing.T, w *Writer, chunks ...[]byte) {
	t.Helper()
	for _, c := range chunks {
		n, err := w.Write(c)
		require.NoError(t, err)
		require.Equal(t, len(c), n)
	}
}

func TestWriter(t *testing.T) {
	t.Run("fresh key, small body", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "out.crx")
		keyPath := filepath.Join(dir, "newkey.pem")

		w, err := Create(dst, WithKeyPath(keyPath), WithKeyOptions(keypair.WithKeySize(signer.MinKeySize)), WithLogger(discard))
		require.NoError(t, err)
		writeAll(t, w, []byte("hello"))
		res, err := w.Finish()
		require.NoError(t, err)

		require.True(t, res.KeyCreated)
		require.Equal(t, keyPath, res.KeyPath)
		require.FileExists(t, keyPath)

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		require.Equal(t, []byte("Cr24"), data[:4])
		require.Equal(t, []byte{3, 0, 0, 0}, data[4:8])
		headerLength := binary.LittleEndian.Uint32(data[8:12])
		require.Equal(t, int(headerLength)+12+5, len(data))
		require.Equal(t, res.HeaderSize, int64(headerLength)+12)
		require.Equal(t, int64(5), res.BodySize)
		require.Equal(t, "hello", string(data[res.HeaderSize:]))

		v, err := Verify(bytes.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, res.ID, v.ID)
		require.Equal(t, res.PublicKey, v.PublicKey)
	})

	t.Run("header length invariant", func(t *testing.T) {
		for _, size := range []int{0, 1, 511, 512, 4096, 100_000} {
			sink := &memSink{}
			w, err := Create("", WithKeyPair(alice()), WithSink(sink), WithLogger(discard))
			require.NoError(t, err)

			body := helpers.RandomBytes(size)
			if size > 0 {
				writeAll(t, w, body)
			}
			res, err := w.Finish()
			require.NoError(t, err)

			require.Equal(t, uint32(res.HeaderSize-12), binary.LittleEndian.Uint32(sink.buf[8:12]))
			require.Len(t, sink.buf, int(res.HeaderSize)+size)
			require.Equal(t, body, sink.buf[res.HeaderSize:])
			require.True(t, sink.closed)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		body := helpers.RandomBytes(64 * 1024)

		var sizes []int64
		for i := 0; i < 2; i++ {
			sink := &memSink{}
			w, err := Create("", WithKeyPair(alice()), WithSink(sink), WithLogger(discard))
			require.NoError(t, err)
			for off := 0; off < len(body); off += 1000 {
				writeAll(t, w, body[off:min(off+1000, len(body))])
			}
			res, err := w.Finish()
			require.NoError(t, err)
			require.Equal(t, fixtures.AliceID, res.ID.String())
			require.False(t, res.KeyCreated)
			require.Empty(t, res.KeyPath)

			v, err := Verify(bytes.NewReader(sink.buf))
			require.NoError(t, err)
			require.Equal(t, fixtures.AliceID, v.ID.String())
			require.Equal(t, int64(len(body)), v.BodySize)
			sizes = append(sizes, res.HeaderSize)
		}
		require.Equal(t, sizes[0], sizes[1])
	})

	t.Run("corruption rejected", func(t *testing.T) {
		sink := &memSink{}
		w, err := Create("", WithKeyPair(alice()), WithSink(sink), WithLogger(discard))
		require.NoError(t, err)
		writeAll(t, w, helpers.RandomBytes(300))
		res, err := w.Finish()
		require.NoError(t, err)

		for _, off := range []int64{0, 1, 150, 299} {
			corrupt := append([]byte{}, sink.buf...)
			corrupt[res.HeaderSize+off] ^= 0x80
			_, err := Verify(bytes.NewReader(corrupt))
			require.ErrorIs(t, err, ErrBadSignature)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "empty.crx")
		w, err := Create(dst, WithKeyPair(alice()), WithLogger(discard))
		require.NoError(t, err)

		n, err := w.Write(nil)
		require.NoError(t, err)
		require.Zero(t, n)

		res, err := w.Finish()
		require.NoError(t, err)
		require.Zero(t, res.BodySize)

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		require.Len(t, data, int(res.HeaderSize))

		hdr, _, err := header.Read(bytes.NewReader(data))
		require.NoError(t, err)
		seed := header.SignatureSeed(hdr.SignedHeaderData)
		require.True(t, fixtures.Alice.Verifier().Verify(seed, hdr.SHA256WithRSA[0].Signature))

		v, err := Verify(bytes.NewReader(data))
		require.NoError(t, err)
		require.Zero(t, v.BodySize)
	})

	t.Run("unreadable key", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "out.crx")
		keyPath := filepath.Join(dir, "key.pem")
		require.NoError(t, os.WriteFile(keyPath, nil, 0o600))

		w, err := Create(dst, WithKeyPath(keyPath), WithLogger(discard))
		require.NoError(t, err)

		_, err = w.Write([]byte("hello"))
		require.ErrorIs(t, err, keypair.ErrKeyUnreadable)

		_, err = w.Finish()
		require.ErrorIs(t, err, keypair.ErrKeyUnreadable)

		_, err = os.Stat(dst)
		require.True(t, os.IsNotExist(err), "package file must not be created")
	})

	t.Run("unreadable key on close", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "out.crx")
		keyPath := filepath.Join(dir, "key.pem")
		require.NoError(t, os.WriteFile(keyPath, []byte("garbage"), 0o600))

		w, err := Create(dst, WithKeyPath(keyPath), WithLogger(discard))
		require.NoError(t, err)
		require.ErrorIs(t, w.Close(), keypair.ErrKeyUnreadable)

		_, err = os.Stat(dst)
		require.True(t, os.IsNotExist(err))
	})

	t.Run("key persisted once", func(t *testing.T) {
		dir := t.TempDir()
		keyPath := filepath.Join(dir, "key.pem")
		keyOpts := WithKeyOptions(keypair.WithKeySize(signer.MinKeySize))

		var ids []crxid.ID
		for i, name := range []string{"one.crx", "two.crx"} {
			w, err := Create(filepath.Join(dir, name), WithKeyPath(keyPath), keyOpts, WithLogger(discard))
			require.NoError(t, err)
			writeAll(t, w, []byte("body"))
			res, err := w.Finish()
			require.NoError(t, err)
			require.Equal(t, i == 0, res.KeyCreated)
			ids = append(ids, res.ID)
		}
		require.Equal(t, ids[0], ids[1])
	})

	t.Run("write failure", func(t *testing.T) {
		sink := &memSink{failAfter: 2}
		w, err := Create("", WithKeyPair(alice()), WithSink(sink), WithLogger(discard))
		require.NoError(t, err)

		writeAll(t, w, []byte("a"), []byte("b"))
		_, err = w.Write([]byte("c"))
		require.ErrorIs(t, err, ErrSinkIO)
		first := err

		_, err = w.Write([]byte("d"))
		require.Equal(t, first, err)
		require.Equal(t, first, w.Close())
		_, err = w.Result()
		require.Equal(t, first, err)

		require.True(t, sink.closed)
		// The header region was never written.
		require.Equal(t, 2, sink.writes)
		require.NotEqual(t, []byte("Cr24"), sink.buf[:4])
	})

	t.Run("sync failure", func(t *testing.T) {
		sink := &memSink{failSync: true}
		w, err := Create("", WithKeyPair(alice()), WithSink(sink), WithLogger(discard))
		require.NoError(t, err)
		writeAll(t, w, []byte("body"))

		err = w.Close()
		require.ErrorIs(t, err, ErrSinkIO)
		require.NotEqual(t, []byte("Cr24"), sink.buf[:4])
	})

	t.Run("closed", func(t *testing.T) {
		w, err := Create("", WithKeyPair(alice()), WithSink(&memSink{}), WithLogger(discard))
		require.NoError(t, err)
		writeAll(t, w, []byte("body"))
		require.NoError(t, w.Close())

		_, err = w.Write([]byte("more"))
		require.ErrorIs(t, err, ErrClosed)
		require.ErrorIs(t, w.Close(), ErrClosed)
		require.ErrorIs(t, w.Abort(nil), ErrClosed)

		_, err = w.Result()
		require.NoError(t, err)
	})

	t.Run("opened", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "out.crx")
		w, err := Create(dst, WithKeyPair(alice()), WithLogger(discard))
		require.NoError(t, err)
		require.False(t, w.Opened())
		writeAll(t, w, []byte("body"))
		require.True(t, w.Opened())
		require.NoError(t, w.Close())

		keyPath := filepath.Join(dir, "key.pem")
		require.NoError(t, os.WriteFile(keyPath, nil, 0o600))
		w, err = Create(filepath.Join(dir, "other.crx"), WithKeyPath(keyPath), WithLogger(discard))
		require.NoError(t, err)
		_, err = w.Write([]byte("body"))
		require.ErrorIs(t, err, keypair.ErrKeyUnreadable)
		require.False(t, w.Opened())

		w, err = Create("", WithKeyPair(alice()), WithSink(&memSink{}), WithLogger(discard))
		require.NoError(t, err)
		writeAll(t, w, []byte("body"))
		require.False(t, w.Opened())
	})

	t.Run("result before close", func(t *testing.T) {
		w, err := Create("", WithKeyPair(alice()), WithSink(&memSink{}), WithLogger(discard))
		require.NoError(t, err)
		_, err = w.Result()
		require.ErrorIs(t, err, ErrNotClosed)
	})

	t.Run("abort", func(t *testing.T) {
		sink := &memSink{}
		w, err := Create("", WithKeyPair(alice()), WithSink(sink), WithLogger(discard))
		require.NoError(t, err)
		writeAll(t, w, []byte("partial"))

		cause := errors.New("archive failed")
		require.Equal(t, cause, w.Abort(cause))
		require.Equal(t, cause, w.Close())
		require.True(t, sink.closed)
		require.NotEqual(t, []byte("Cr24"), sink.buf[:4])

		_, err = Verify(bytes.NewReader(sink.buf))
		require.ErrorIs(t, err, header.ErrBadMagic)
	})

	t.Run("concurrent writes", func(t *testing.T) {
		sink := &memSink{}
		w, err := Create("", WithKeyPair(alice()), WithSink(sink), WithLogger(discard))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = w.Write(bytes.Repeat([]byte{'x'}, 1000))
			}()
		}
		wg.Wait()

		_, err = w.Finish()
		require.NoError(t, err)
		_, err = Verify(bytes.NewReader(sink.buf))
		require.NoError(t, err)
	})
}

func TestCreate(t *testing.T) {
	_, err := Create("")
	require.Error(t, err)

	_, err = Create("x.crx", WithKeyPair(nil))
	require.Error(t, err)

	_, err = Create("x.crx", WithLogger(nil))
	require.Error(t, err)

	_, err = Create("x.crx", WithSink(nil))
	require.Error(t, err)
}
