package models

// Item is one corpus entry: a source raster, its ground-truth mask, and
// the categorical key used to stratify the train/validation split.
type Item struct {
	ImagePath string `json:"image" yaml:"image"`
	MaskPath  string `json:"mask" yaml:"mask"`
	Stratum   string `json:"stratum" yaml:"stratum"`
}

// Index is the ordered full-corpus listing the partitioner splits.
type Index []Item

// IndexFile is the on-disk manifest format (JSON or YAML).
type IndexFile struct {
	Items []Item `json:"items" yaml:"items"`
}
