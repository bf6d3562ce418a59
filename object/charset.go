package object

import "unicode/utf8"

// Charset names the effective text encoding a commit/tag message was
// decoded under (spec.md §3 "Commit"). Git never transcodes message bytes —
// it only ever needs to know which encoding they are valid under — so
// decoding a message is a validation chain, not a conversion.
type Charset string

const (
	CharsetUTF8       Charset = "UTF-8"
	CharsetPlatform   Charset = "platform"
	CharsetISO88591   Charset = "ISO-8859-1"
)

// platformDefault is substituted for the "platform default" link in the
// fallback chain. It is a build-time constant rather than a runtime
// os.Getenv($LANG) sniff, since the core library has no notion of a
// current locale; a commit's declared "encoding" header, which
// decodeMessageCharset consults first, takes precedence over it.
const platformDefault = CharsetUTF8

// decodeMessageCharset walks the fallback chain from spec.md §3: the
// commit's declared "encoding" header, then UTF-8, then the platform
// default, then ISO-8859-1 (which, being a single-byte encoding whose code
// points map 1:1 onto Unicode, always succeeds and is therefore the chain's
// terminal case). It returns the charset that was actually used.
func decodeMessageCharset(declared string, body []byte) Charset {
	if declared != "" {
		if declared == string(CharsetUTF8) && utf8.Valid(body) {
			return CharsetUTF8
		}
		if declared != string(CharsetUTF8) {
			// An explicit non-UTF-8 declaration is trusted as-is: the
			// core does not ship charset tables to verify it, it only
			// refuses to silently call non-UTF-8 bytes "UTF-8".
			return Charset(declared)
		}
	}

	if utf8.Valid(body) {
		return CharsetUTF8
	}
	if platformDefault == CharsetUTF8 {
		// platform default coincides with UTF-8 here and already failed
		// above, so the chain falls through.
	}
	return CharsetISO88591
}
