package cache

import "fmt"

// Stats is a point-in-time view of a cache.
type Stats struct {
	Hits      int64 `json:"hits" yaml:"hits"`
	Misses    int64 `json:"misses" yaml:"misses"`
	Evictions int64 `json:"evictions" yaml:"evictions"`
	Size      int   `json:"size" yaml:"size"`
	Capacity  int   `json:"capacity" yaml:"capacity"`
}

// Lookups is the number of Get calls counted.
func (s Stats) Lookups() int64 { return s.Hits + s.Misses }

// HitRatio is hits over lookups, 0 when nothing was looked up.
func (s Stats) HitRatio() float64 {
	total := s.Lookups()
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Stats) String() string {
	return fmt.Sprintf("size=%d/%d hits=%d misses=%d evictions=%d",
		s.Size, s.Capacity, s.Hits, s.Misses, s.Evictions)
}

// StatsProvider is anything that can report cache statistics.
type StatsProvider interface {
	Name() string
	Stats() Stats
}
