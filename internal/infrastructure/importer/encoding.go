// Package importer loads the terminal's exported reference files (historical
// bars and sector membership) into the store in bulk.
package importer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// ErrEncoding means a file decoded under none of the configured encodings.
var ErrEncoding = errors.New("undecodable text file")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText tries each configured encoding in order and returns the first
// clean decode. Escalates only after every encoding failed.
func decodeText(raw []byte, encodings []string) (string, error) {
	for _, name := range encodings {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "utf-8", "utf8":
			if utf8.Valid(raw) {
				return string(bytes.TrimPrefix(raw, utf8BOM)), nil
			}
		case "utf-8-sig":
			if bytes.HasPrefix(raw, utf8BOM) && utf8.Valid(raw) {
				return string(bytes.TrimPrefix(raw, utf8BOM)), nil
			}
		case "gbk", "gb2312":
			if out, ok := strictDecode(simplifiedchinese.GBK.NewDecoder(), raw); ok {
				return out, nil
			}
		case "gb18030":
			if out, ok := strictDecode(simplifiedchinese.GB18030.NewDecoder(), raw); ok {
				return out, nil
			}
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrEncoding, encodings)
}

// strictDecode rejects a decode that had to substitute replacement runes. The
// x/text decoders emit U+FFFD for invalid bytes instead of erroring, which
// would let an undecodable file pass as mojibake.
func strictDecode(dec *encoding.Decoder, raw []byte) (string, bool) {
	out, err := dec.Bytes(raw)
	if err != nil {
		return "", false
	}
	s := string(out)
	if strings.ContainsRune(s, utf8.RuneError) {
		return "", false
	}
	return s, true
}
