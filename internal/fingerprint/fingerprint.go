// Package fingerprint computes content identities for duplicate detection:
// a cheap xxhash64 over the leading bytes and a SHA-256 over the whole file.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"

	"shx-go/internal/model"
)

// DefaultPartialSize is the number of leading bytes covered by the partial digest.
const DefaultPartialSize = 4096

// Opener reads file content and refreshes identities for change detection.
type Opener interface {
	Open(absPath string) (io.ReadCloser, error)
	Identify(absPath string) (model.FileIdentity, error)
}

// Cache stores digests between runs. Implementations must be safe for concurrent use.
type Cache interface {
	Lookup(key string) (model.DigestRecord, bool, error)
	Store(rec model.DigestRecord) error
}

// Logger receives cache failures, which never fail a fingerprint.
type Logger interface {
	Warn(msg string, args ...any)
}

// Options configures a Hasher.
type Options struct {
	PartialSize int64
	Cache       Cache // optional
	// TrustCache allows cached digests to stand in for reading content.
	// Deletion paths must leave this off.
	TrustCache bool
	Logger     Logger
	Now        func() time.Time
}

// Hasher fingerprints files. It is safe for concurrent use when its Opener and
// Cache are.
type Hasher struct {
	opener      Opener
	cache       Cache
	trustCache  bool
	partialSize int64
	logger      Logger
	now         func() time.Time
}

// NewHasher creates a Hasher reading through opener.
func NewHasher(opener Opener, opts Options) *Hasher {
	h := &Hasher{
		opener:      opener,
		cache:       opts.Cache,
		trustCache:  opts.TrustCache,
		partialSize: opts.PartialSize,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if h.partialSize <= 0 {
		h.partialSize = DefaultPartialSize
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// PartialSize returns the number of leading bytes the partial digest covers.
func (h *Hasher) PartialSize() int64 { return h.partialSize }

// Partial computes the partial digest. Files no larger than the partial size
// are read completely, so their full digest is filled in from the same read.
func (h *Hasher) Partial(ctx context.Context, id model.FileIdentity) (model.Fingerprint, error) {
	fp := model.Fingerprint{Size: id.Size}
	if err := ctx.Err(); err != nil {
		return fp, err
	}
	if rec, ok := h.cached(id); ok {
		fp.Partial = rec.Partial
		fp.Full = rec.Full
		return fp, nil
	}

	f, err := h.opener.Open(id.AbsPath)
	if err != nil {
		return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: err}
	}
	defer f.Close()

	buf := make([]byte, min(id.Size, h.partialSize))
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			err = model.ErrChangedDuringRead
		}
		return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: err}
	}
	fp.Partial = xxhash.Sum64(buf)

	if id.Size <= h.partialSize {
		var extra [1]byte
		if n, _ := f.Read(extra[:]); n > 0 {
			return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: model.ErrChangedDuringRead}
		}
		sum := sha256.Sum256(buf)
		fp.Full = hex.EncodeToString(sum[:])
	}

	h.remember(id, fp)
	return fp, nil
}

// Full completes fp with the SHA-256 of the entire content. The file is
// re-identified afterwards and rejected if its size or mtime moved.
func (h *Hasher) Full(ctx context.Context, id model.FileIdentity, fp model.Fingerprint) (model.Fingerprint, error) {
	if fp.HasFull() {
		return fp, nil
	}
	if err := ctx.Err(); err != nil {
		return fp, err
	}
	if rec, ok := h.cached(id); ok && rec.Full != "" && rec.Partial == fp.Partial {
		fp.Full = rec.Full
		return fp, nil
	}

	f, err := h.opener.Open(id.AbsPath)
	if err != nil {
		return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: err}
	}
	defer f.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fp, ctxErr
		}
		return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: err}
	}
	if n != id.Size {
		return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: fmt.Errorf("%w: read %d of %d bytes", model.ErrChangedDuringRead, n, id.Size)}
	}

	after, err := h.opener.Identify(id.AbsPath)
	if err != nil {
		return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: fmt.Errorf("re-stat file: %w", err)}
	}
	if !id.SameContentState(after) {
		return fp, &model.UnreadableFileError{Path: id.AbsPath, Err: model.ErrChangedDuringRead}
	}

	fp.Full = hex.EncodeToString(hash.Sum(nil))
	h.remember(id, fp)
	return fp, nil
}

// Fingerprint computes both digests for a single file.
func (h *Hasher) Fingerprint(ctx context.Context, id model.FileIdentity) (model.Fingerprint, error) {
	fp, err := h.Partial(ctx, id)
	if err != nil {
		return fp, err
	}
	return h.Full(ctx, id, fp)
}

func (h *Hasher) cached(id model.FileIdentity) (model.DigestRecord, bool) {
	if !h.trustCache || h.cache == nil {
		return model.DigestRecord{}, false
	}
	rec, ok, err := h.cache.Lookup(model.DigestKey(id))
	if err != nil {
		h.warn("digest cache lookup failed", "path", id.AbsPath, "error", err)
		return model.DigestRecord{}, false
	}
	if !ok || !rec.Matches(id) {
		return model.DigestRecord{}, false
	}
	return rec, true
}

func (h *Hasher) remember(id model.FileIdentity, fp model.Fingerprint) {
	if h.cache == nil {
		return
	}
	if fp.Full == "" {
		fp.Full = h.knownFull(id, fp.Partial)
	}
	rec := model.DigestRecord{
		Key:       model.DigestKey(id),
		Size:      id.Size,
		ModTimeNS: id.ModTime.UnixNano(),
		Partial:   fp.Partial,
		Full:      fp.Full,
		HashedAt:  h.now().UTC(),
	}
	if err := h.cache.Store(rec); err != nil {
		h.warn("digest cache store failed", "path", id.AbsPath, "error", err)
	}
}

// knownFull returns the cached full digest of id when the cached record still
// describes the file and agrees on the partial digest. It is used only to avoid
// discarding a digest on write, never to skip reading content.
func (h *Hasher) knownFull(id model.FileIdentity, partial uint64) string {
	rec, ok, err := h.cache.Lookup(model.DigestKey(id))
	if err != nil || !ok || !rec.Matches(id) || rec.Partial != partial {
		return ""
	}
	return rec.Full
}

func (h *Hasher) warn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}

// ctxReader aborts long reads once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
