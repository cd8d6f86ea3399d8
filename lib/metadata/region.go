package metadata

// Region is a remote region known to the local cluster.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RegionCatalog holds the local region name and the known remote regions.
type RegionCatalog struct {
	Seq       uint64             `json:"seq"`
	LocalName string             `json:"localName,omitempty"`
	Regions   map[string]*Region `json:"regions"`
}

// NewRegionCatalog returns an empty region catalog.
func NewRegionCatalog() *RegionCatalog {
	return &RegionCatalog{Regions: make(map[string]*Region)}
}

func (c *RegionCatalog) Kind() Kind             { return KindRegion }
func (c *RegionCatalog) Sequence() uint64       { return c.Seq }
func (c *RegionCatalog) setSequence(seq uint64) { c.Seq = seq }

// Region looks up a remote region by name.
func (c *RegionCatalog) Region(name string) *Region {
	return c.Regions[nameKey(name)]
}

// PutRegion adds or replaces a remote region.
func (c *RegionCatalog) PutRegion(r *Region) {
	c.Regions[nameKey(r.Name)] = r
}

// RemoveRegion drops a remote region.
func (c *RegionCatalog) RemoveRegion(name string) {
	delete(c.Regions, nameKey(name))
}
