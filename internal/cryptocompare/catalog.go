package cryptocompare

// Catalog maps tickers to display names, preserving first-seen order
type Catalog struct {
	order []string
	names map[string]string
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{names: make(map[string]string)}
}

// Add inserts a symbol unless it is already present
func (c *Catalog) Add(symbol, name string) bool {
	if _, exists := c.names[symbol]; exists {
		return false
	}
	c.names[symbol] = name
	c.order = append(c.order, symbol)
	return true
}

// Name returns the display name for symbol
func (c *Catalog) Name(symbol string) (string, bool) {
	if c == nil {
		return "", false
	}
	name, ok := c.names[symbol]
	return name, ok
}

// Has reports whether symbol is in the catalog
func (c *Catalog) Has(symbol string) bool {
	_, ok := c.Name(symbol)
	return ok
}

// Symbols returns the tickers in insertion order
func (c *Catalog) Symbols() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}
