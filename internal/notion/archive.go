package notion

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const zipMIME = "application/zip"

// EntryPredicate は取り出す ZIP エントリを選びます。
type EntryPredicate func(entry *zip.File) bool

// HasSuffix は名前が ext で終わるエントリを選ぶ EntryPredicate を返します。
func HasSuffix(ext string) EntryPredicate {
	return func(entry *zip.File) bool {
		return strings.HasSuffix(entry.Name, ext)
	}
}

// Archive はメモリ上に展開したエクスポート ZIP です。
type Archive struct {
	reader *zip.Reader
	size   int64
}

// OpenArchive はバイト列が ZIP であることを確認してから開きます。
func OpenArchive(data []byte) (*Archive, error) {
	if !isZip(data) {
		return nil, newError(ErrNotArchive, fmt.Errorf("detected %s", mimetype.Detect(data).String()))
	}
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, newError(ErrNotArchive, err)
	}
	return &Archive{reader: reader, size: int64(len(data))}, nil
}

// Entries は格納順のエントリ一覧を返します。
func (a *Archive) Entries() []*zip.File {
	return a.reader.File
}

// Size は ZIP 全体のバイト数です。
func (a *Archive) Size() int64 {
	return a.size
}

// Find は predicate に合う最初のエントリを返します。見つからなければ nil です。
func (a *Archive) Find(predicate EntryPredicate) *zip.File {
	for _, entry := range a.reader.File {
		if predicate(entry) {
			return entry
		}
	}
	return nil
}

// ExtractString は predicate に合う最初のエントリを前後の空白を除いた文字列で返します。
// 該当なし、または中身が空白のみの場合は ErrEntryNotFound です。
func ExtractString(a *Archive, predicate EntryPredicate) (string, error) {
	entry := a.Find(predicate)
	if entry == nil {
		return "", ErrEntryNotFound
	}
	data, err := readEntry(entry)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", entry.Name, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", newError(ErrEntryNotFound, fmt.Errorf("%s is empty", entry.Name))
	}
	return text, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isZip(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return true
		}
	}
	return false
}
