package services

// ScanCache maps page numbers to recognised text for one document session.
// Like the session it is only touched from the UI loop.
type ScanCache struct {
	pages map[int]string
}

func NewScanCache() *ScanCache {
	return &ScanCache{pages: make(map[int]string)}
}

func (c *ScanCache) Get(page int) (string, bool) {
	text, ok := c.pages[page]
	return text, ok
}

func (c *ScanCache) Put(page int, text string) {
	c.pages[page] = text
}

func (c *ScanCache) Clear() {
	clear(c.pages)
}

func (c *ScanCache) Len() int { return len(c.pages) }
