package transport

// --------------------------------------------------------------------------
// Zero-copy writer contract
// --------------------------------------------------------------------------

// PayloadWriter is implemented by message sources that fill a
// transport-owned buffer in place instead of handing over a serialized
// byte slice.
//
// The transport first calls GetSize to learn how many bytes to allocate,
// then hands the writer a buffer of exactly that length. A writer must
// fill the whole buffer and return true; returning false aborts the send.
// Neither method may retain the buffer beyond the call.
type PayloadWriter interface {
	// GetSize returns the exact number of bytes the writer will produce.
	// Called before every send.
	GetSize() int

	// WriteFull fills a freshly allocated buffer of GetSize() bytes.
	WriteFull(buf []byte) bool
}

// ModifyingWriter is an optional extension of PayloadWriter. When a
// publication resends through the same buffer (same size as the previous
// send), it calls WriteModified so the writer can touch only the bytes
// that changed. Writers that do not implement it get WriteFull instead.
type ModifyingWriter interface {
	PayloadWriter

	// WriteModified updates a buffer that still holds the previous send's
	// bytes. Only called when the buffer length equals GetSize().
	WriteModified(buf []byte) bool
}

// FillBuffer invokes the writer against buf. When reuse is true and the
// writer implements ModifyingWriter, the partial-update path is taken;
// in every other case the writer must produce the full payload. This is
// the single place the WriteModified fallback rule lives.
func FillBuffer(w PayloadWriter, buf []byte, reuse bool) bool {
	if reuse {
		if mw, ok := w.(ModifyingWriter); ok {
			return mw.WriteModified(buf)
		}
	}
	return w.WriteFull(buf)
}
