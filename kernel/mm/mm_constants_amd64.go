package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a frame number (shift right by
	// PageShift) and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes. Physical frames and
	// virtual pages share this size.
	PageSize = uintptr(1 << PageShift)
)
