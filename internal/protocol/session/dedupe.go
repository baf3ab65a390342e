package session

// RecentIDs remembers recently received safe sequence ids in fixed hash
// buckets (id % count). Each bucket is bounded; the oldest id is evicted.
type RecentIDs struct {
	buckets [][]uint32
	depth   int
}

func NewRecentIDs(count, depth int) *RecentIDs {
	if count <= 0 {
		count = 1
	}
	if depth <= 0 {
		depth = 1
	}
	return &RecentIDs{
		buckets: make([][]uint32, count),
		depth:   depth,
	}
}

func (r *RecentIDs) bucket(id uint32) int {
	return int(id % uint32(len(r.buckets)))
}

func (r *RecentIDs) Seen(id uint32) bool {
	for _, v := range r.buckets[r.bucket(id)] {
		if v == id {
			return true
		}
	}
	return false
}

// Observe records id and reports whether it was already present.
func (r *RecentIDs) Observe(id uint32) (duplicate bool) {
	if r.Seen(id) {
		return true
	}
	i := r.bucket(id)
	b := r.buckets[i]
	if len(b) >= r.depth {
		copy(b, b[1:])
		b = b[:len(b)-1]
	}
	r.buckets[i] = append(b, id)
	return false
}

func (r *RecentIDs) Len() int {
	n := 0
	for _, b := range r.buckets {
		n += len(b)
	}
	return n
}

func (r *RecentIDs) Reset() {
	for i := range r.buckets {
		r.buckets[i] = r.buckets[i][:0]
	}
}
