// Package crx writes and verifies signed CRX3 packages.
//
// A Writer accepts the bytes of a zip archive and produces a package file
// whose header carries the signing public key, the package ID derived from
// it and an RSA signature over the archive. The signature is computed while
// the archive streams through, so the archive is never held in memory.
// Because the header size depends only on the key, the writer reserves the
// header region before the first archive byte and fills it in on Close.
package crx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/storacha/go-crx3/crxid"
	"github.com/storacha/go-crx3/header"
	"github.com/storacha/go-crx3/keypair"
	"github.com/storacha/go-crx3/signing"
)

var (
	// ErrSinkIO wraps failures of the underlying file.
	ErrSinkIO = errors.New("package file I/O failed")
	// ErrClosed is returned by calls made after a successful Close.
	ErrClosed = errors.New("package writer is closed")
	// ErrNotClosed is returned by Result before the writer has been closed.
	ErrNotClosed = errors.New("package writer is not closed")
	// ErrHeaderSizeChanged means the final header does not fit the reserved
	// region, which happens only if signature length varies with content.
	ErrHeaderSizeChanged = errors.New("header size differs from reserved size")
	// ErrAborted is the default cause recorded by Abort.
	ErrAborted = errors.New("package writer aborted")
)

// Sink is the destination of a package. *os.File satisfies it.
type Sink interface {
	io.WriterAt
	Sync() error
	Close() error
}

type state int

const (
	stateUninitialized state = iota
	stateStreaming
	stateClosed
	stateErrored
)

// Result describes a finished package.
type Result struct {
	// ID is the package ID derived from PublicKey.
	ID crxid.ID
	// PublicKey is the DER encoded SubjectPublicKeyInfo the package was
	// signed with.
	PublicKey []byte
	// KeyCreated is true when the signing key was generated for this package.
	KeyCreated bool
	// KeyPath is where a generated key was saved, if anywhere.
	KeyPath string
	// HeaderSize is the size of the header, prefix included.
	HeaderSize int64
	// BodySize is the size of the archive.
	BodySize int64
}

// Writer streams an archive into a signed package. Writes are serialized
// internally, but callers must still deliver archive bytes in order.
type Writer struct {
	mu     sync.Mutex
	path   string
	cfg    writerConfig
	logger *slog.Logger

	state state
	err   error

	sink             Sink
	opened           bool
	keyPair          *keypair.KeyPair
	id               crxid.ID
	signedHeaderData []byte
	stream           *signing.Stream
	reserved         int64
	offset           int64

	result Result
}

// Create returns a Writer for the package at path. Nothing is read or written
// until the first archive byte arrives or the writer is closed; the key is
// loaded before the file is created, so a key error leaves no file behind.
func Create(path string, options ...Option) (*Writer, error) {
	cfg := writerConfig{}
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if path == "" && cfg.sink == nil {
		return nil, fmt.Errorf("package path must not be empty")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	} else {
		cfg.keyOptions = append([]keypair.Option{keypair.WithLogger(logger)}, cfg.keyOptions...)
	}

	return &Writer{path: path, cfg: cfg, logger: logger}, nil
}

// Write signs and writes a chunk of the archive.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateErrored:
		return 0, w.err
	case stateClosed:
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if w.state == stateUninitialized {
		if err := w.reserve(); err != nil {
			return 0, w.fail(err)
		}
	}

	// Hash writes never fail.
	_, _ = w.stream.Write(p)

	n, err := w.sink.WriteAt(p, w.offset)
	w.offset += int64(n)
	if err != nil {
		return n, w.fail(sinkError("writing archive", err))
	}
	if n < len(p) {
		return n, w.fail(sinkError("writing archive", io.ErrShortWrite))
	}
	return n, nil
}

// Close signs the archive written so far, writes the header into the
// reserved region and syncs the file. Closing a writer that never received
// any archive bytes produces a package with an empty archive.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateErrored:
		return w.err
	case stateClosed:
		return ErrClosed
	case stateUninitialized:
		if err := w.reserve(); err != nil {
			return w.fail(err)
		}
	}

	if err := w.finalize(); err != nil {
		return w.fail(err)
	}
	w.state = stateClosed
	return nil
}

// Abort stops the writer without writing a header, so the partial file is
// never mistaken for a valid package. cause is recorded as the writer's error;
// a nil cause records ErrAborted. Removing the file is up to the caller.
func (w *Writer) Abort(cause error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateErrored:
		return w.err
	case stateClosed:
		return ErrClosed
	}
	if cause == nil {
		cause = ErrAborted
	}
	return w.fail(cause)
}

// Opened reports whether the writer has created or truncated the file at its
// path. It stays false when a sink was injected.
func (w *Writer) Opened() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened
}

// Result returns the details of the finished package. It fails until Close
// has succeeded.
func (w *Writer) Result() (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateClosed:
		return w.result, nil
	case stateErrored:
		return Result{}, w.err
	default:
		return Result{}, ErrNotClosed
	}
}

// Finish closes the writer and returns its Result.
func (w *Writer) Finish() (Result, error) {
	if err := w.Close(); err != nil {
		return Result{}, err
	}
	return w.Result()
}

// reserve loads the key, derives the package ID and opens the sink with
// room for the header left at the front.
func (w *Writer) reserve() error {
	kp := w.cfg.keyPair
	if kp == nil {
		var err error
		kp, err = keypair.LoadOrCreate(w.cfg.keyPath, w.cfg.keyOptions...)
		if err != nil {
			return err
		}
	}

	pub := kp.PublicKey()
	id := crxid.FromPublicKey(pub)
	shd := header.EncodeSignedData(id)

	// RSA signatures are as long as the modulus whatever they sign, so a
	// signature over an empty archive has the length of the real one.
	placeholder, err := signing.New(shd).Sign(kp.Signer)
	if err != nil {
		return fmt.Errorf("signing placeholder header: %w", err)
	}
	faux, err := header.Encode(pub, shd, placeholder)
	if err != nil {
		return err
	}

	sink := w.cfg.sink
	if sink == nil {
		f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return sinkError("creating package file", err)
		}
		sink = f
		w.opened = true
	}

	w.sink = sink
	w.keyPair = kp
	w.id = id
	w.signedHeaderData = shd
	w.stream = signing.New(shd)
	w.reserved = int64(len(faux))
	w.offset = w.reserved
	w.state = stateStreaming

	w.logger.Debug("reserved package header", "path", w.path, "id", id.String(), "size", w.reserved)
	return nil
}

func (w *Writer) finalize() error {
	sig, err := w.stream.Sign(w.keyPair.Signer)
	if err != nil {
		return fmt.Errorf("signing archive: %w", err)
	}

	pub := w.keyPair.PublicKey()
	hdr, err := header.Encode(pub, w.signedHeaderData, sig)
	if err != nil {
		return err
	}
	if int64(len(hdr)) != w.reserved {
		return fmt.Errorf("%w: reserved %d bytes, header is %d", ErrHeaderSizeChanged, w.reserved, len(hdr))
	}

	// The archive must be on disk before the header makes the file look valid.
	if err := w.sink.Sync(); err != nil {
		return sinkError("syncing archive", err)
	}
	if _, err := w.sink.WriteAt(hdr, 0); err != nil {
		return sinkError("writing header", err)
	}
	if err := w.sink.Sync(); err != nil {
		return sinkError("syncing header", err)
	}
	sink := w.sink
	w.sink = nil
	if err := sink.Close(); err != nil {
		return sinkError("closing package file", err)
	}

	w.result = Result{
		ID:         w.id,
		PublicKey:  pub,
		KeyCreated: w.keyPair.Created,
		KeyPath:    w.keyPair.SavedPath,
		HeaderSize: w.reserved,
		BodySize:   w.offset - w.reserved,
	}
	w.logger.Debug("wrote package", "path", w.path, "id", w.id.String(), "archive_size", w.result.BodySize)

	w.release()
	return nil
}

// fail moves the writer to the errored state and records err for every later
// call.
func (w *Writer) fail(err error) error {
	w.state = stateErrored
	w.err = err
	if w.sink != nil {
		_ = w.sink.Close()
		w.sink = nil
	}
	w.release()
	return err
}

// release drops the key material and signing state.
func (w *Writer) release() {
	w.cfg.keyPair = nil
	w.keyPair = nil
	w.stream = nil
	w.signedHeaderData = nil
}

func sinkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSinkIO, op, err)
}
