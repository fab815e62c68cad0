// Package fingerprint computes AnchorSignatures: cheap, fixed-size
// content fingerprints used by the relation detector instead of
// reading whole files.
//
// A signature never needs more than eight reads per file (three 64 KiB
// anchor windows plus five 4 KiB interior samples), so the detector
// can afford to compute one per file encountered inside a block
// without the engine ever streaming a full file end to end (the one
// exception being the optional Exact check's final streaming-hash
// tiebreak, which lives in internal/relation). The k-gram set itself
// is built by sliding a 64-byte window, one byte at a time, across
// every one of those reads, so it's large (tens of thousands of
// entries for a full head/tail pair) even though the bytes it's drawn
// from are not.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/ivoronin/novelguard/internal/types"
)

// MinFileSize is the minimum size a file must reach before a
// signature is computed at all; smaller files carry too little
// content for head/mid/tail windows to be meaningful.
const MinFileSize = 8 * 1024

const (
	windowSize  = 64 * 1024
	kgramLength = 64
)

// FileReader is the read collaborator the engine declares and the CLI
// (via internal/reader) implements.
type FileReader interface {
	ReadWindow(path string, offset, length int64) ([]byte, error)
}

// EncodingHint is the encoding-lookup collaborator the engine
// declares. Absence of a hint means the file's bytes are treated as
// opaque: no decode, no case fold, Normalized stays false.
type EncodingHint interface {
	Lookup(fileID uint64) (string, bool)
}

var foldCaser = cases.Fold()
var horizontalWhitespace = regexp.MustCompile(`[ \t]+`)

// Compute builds the AnchorSignature for one file. Returns (nil, nil)
// for files under MinFileSize — the relation detector treats a nil
// signature the same as "too small to compare by content". A non-nil
// error is an ErrorFingerprintIO EngineError, or a Cancelled
// EngineError when ctx is already done; the relation detector skips
// the pair on either rather than aborting the run.
func Compute(ctx context.Context, r FileReader, hint EncodingHint, fileID uint64, path string, size int64) (*types.AnchorSignature, error) {
	if size < MinFileSize {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewCancelledError()
	}

	encodingName, hasHint := hint.Lookup(fileID)

	headRaw, err := r.ReadWindow(path, 0, windowSize)
	if err != nil {
		return nil, fingerprintIOError(path, "head", err)
	}

	tailStart := size - windowSize
	if tailStart < 0 {
		tailStart = 0
	}
	tailRaw, err := r.ReadWindow(path, tailStart, windowSize)
	if err != nil {
		return nil, fingerprintIOError(path, "tail", err)
	}

	midStart := size/2 - windowSize/2
	if midStart < 0 {
		midStart = 0
	}
	midRaw, err := r.ReadWindow(path, midStart, windowSize)
	if err != nil {
		return nil, fingerprintIOError(path, "mid", err)
	}

	var head, mid, tail []byte
	normalized := false
	if hasHint {
		head = normalizeText(headRaw, encodingName)
		mid = normalizeText(midRaw, encodingName)
		tail = normalizeText(tailRaw, encodingName)
		normalized = true
	} else {
		head, mid, tail = headRaw, midRaw, tailRaw
	}

	sig := &types.AnchorSignature{
		HeadHash:   sha256.Sum256(head),
		MidHash:    sha256.Sum256(mid),
		TailHash:   sha256.Sum256(tail),
		KGrams:     make(map[types.KGram]struct{}),
		Normalized: normalized,
	}

	slideKGrams(sig, head)
	slideKGrams(sig, tail)

	const interiorSampleSize = 4 * 1024
	for i := int64(1); i <= 5; i++ {
		offset := size * i / 6
		raw, err := r.ReadWindow(path, offset, interiorSampleSize)
		if err != nil {
			// An interior sample miss degrades the k-gram set, not the
			// whole signature: Jaccard similarity still works over
			// whatever k-grams were collected.
			continue
		}
		if hasHint {
			raw = normalizeText(raw, encodingName)
		}
		slideKGrams(sig, raw)
	}

	return sig, nil
}

func fingerprintIOError(path, window string, err error) error {
	return &types.EngineError{
		Kind:    types.ErrorFingerprintIO,
		Message: fmt.Sprintf("read %s window of %s", window, path),
		Err:     err,
	}
}

// slideKGrams inserts one k-gram per offset of a kgramLength-byte
// window slid across data, one byte at a time. data shorter than
// kgramLength contributes nothing.
func slideKGrams(sig *types.AnchorSignature, data []byte) {
	if len(data) < kgramLength {
		return
	}
	for start := 0; start+kgramLength <= len(data); start++ {
		sig.KGrams[sha1.Sum(data[start:start+kgramLength])] = struct{}{}
	}
}

// normalizeText decodes raw bytes via the named IANA encoding, strips
// a leading BOM, folds CRLF/CR to LF, trims trailing horizontal
// whitespace per line, collapses runs of horizontal whitespace, and
// case-folds. If the encoding name is unrecognized (or decoding
// fails), only the decode step is skipped: the remaining steps run on
// the raw bytes.
func normalizeText(raw []byte, encodingName string) []byte {
	decoded := decode(raw, encodingName)
	decoded = bytes.TrimPrefix(decoded, []byte{0xEF, 0xBB, 0xBF})

	s := string(decoded)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = horizontalWhitespace.ReplaceAllString(s, " ")
	s = foldCaser.String(s)

	return []byte(s)
}

func decode(raw []byte, encodingName string) []byte {
	enc, err := htmlindex.Get(encodingName)
	if err != nil {
		return raw
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return raw
	}
	return decoded
}
