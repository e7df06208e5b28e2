package fcmalloc

// sizeClass mirrors the original {max_size, skip_to_next} table entry: a
// size class known to the map, and the number of classes to advance by
// when this class cannot satisfy a claim and the search must try the
// next viable larger one.
type sizeClass struct {
	maxSize int32
	skip    int32
}

const (
	kNumClasses = NumSmallBins + NumLargeBins
	kMaxSize    = ChunkSize
	kAlignment  = 8
)

// sizeMapClassIndex implements the allocator's fixed ClassIndex formula:
// (s+7)/8 for s<=1024, and a coarser 128-byte-grained formula above that.
func sizeMapClassIndex(s int32) int32 {
	if s <= 1024 {
		return (s + 7) / 8
	}
	return (s + 127 + (120 << 7)) / 128
}

// sizeMap is the immutable, run-time constant mapping from request size
// to size class, built once at package init.
type sizeMap struct {
	classes    [kNumClasses]sizeClass
	classArray []byte
}

var globalSizeMap = buildSizeMap()

func buildSizeMap() *sizeMap {
	m := &sizeMap{}

	// Build the small-bin classes in evenly-spaced steps up to SmallBlock
	// (classes [0, NumSmallBins) — the slab path's cell-size classes),
	// then large-bin classes in coarser steps up to kMaxSize (classes
	// [NumSmallBins, kNumClasses) — the variable-bin path). This mirrors
	// the source's class table without requiring a build-time code
	// generator: it is constructed once here instead.
	var sizes [kNumClasses]int32
	smallStep := int32(SmallBlock) / int32(NumSmallBins)
	if smallStep < kAlignment {
		smallStep = kAlignment
	}
	idx := 0
	for s := smallStep; idx < NumSmallBins; s += smallStep {
		if idx == NumSmallBins-1 {
			s = SmallBlock
		}
		sizes[idx] = s
		idx++
	}
	step := int32(kMaxSize-sizes[NumSmallBins-1]) / int32(NumLargeBins)
	if step < kAlignment {
		step = kAlignment
	}
	cur := sizes[NumSmallBins-1]
	for idx < kNumClasses {
		cur += step
		if idx == kNumClasses-1 || cur > kMaxSize {
			cur = kMaxSize
		}
		sizes[idx] = cur
		idx++
	}

	for i := 0; i < kNumClasses; i++ {
		m.classes[i] = sizeClass{maxSize: sizes[i], skip: 1}
	}
	// compute skip distances: how many classes forward a size-class
	// lookup miss must advance to reach the next class that could hold a
	// strictly larger request, collapsing runs of equal-capacity classes
	// (there are none by construction here, but the machinery mirrors
	// the source's skip table regardless).
	for i := 0; i < kNumClasses; i++ {
		skip := int32(1)
		for i+int(skip) < kNumClasses && m.classes[i+int(skip)].maxSize == m.classes[i].maxSize {
			skip++
		}
		m.classes[i].skip = skip
	}

	maxIndex := sizeMapClassIndex(kMaxSize)
	m.classArray = make([]byte, maxIndex+1)
	class := 0
	for i := int32(0); i <= maxIndex; i++ {
		for class < kNumClasses-1 && sizeMapClassIndex(m.classes[class].maxSize) < i {
			class++
		}
		m.classArray[i] = byte(class)
	}
	return m
}

// classOf returns the size class index for a request of size bytes. It
// never fails: requests above kMaxSize saturate at the last class, which
// callers route to the huge/BIG path before consulting the map.
func (m *sizeMap) classOf(size int32) int {
	idx := sizeMapClassIndex(size)
	if int(idx) >= len(m.classArray) {
		return kNumClasses - 1
	}
	return int(m.classArray[idx])
}

// skip returns the number of classes to advance when class cannot
// satisfy a claim.
func (m *sizeMap) skip(class int) int {
	return int(m.classes[class].skip)
}

func (m *sizeMap) maxSizeOf(class int) int32 {
	return m.classes[class].maxSize
}
