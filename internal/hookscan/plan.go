package hookscan

// Plan is the immutable partition of a scan's files into ordered batches.
type Plan struct {
	ScanID     string
	Target     Target
	Batches    [][]string
	TotalFiles int
}

// TotalBatches returns the number of batches in the plan.
func (p *Plan) TotalBatches() int {
	return len(p.Batches)
}

// ProcessedThrough returns how many files have been processed once the batch
// at index has been served. Values past the end clamp to TotalFiles.
func (p *Plan) ProcessedThrough(index int) int {
	n := 0
	for i := 0; i <= index && i < len(p.Batches); i++ {
		n += len(p.Batches[i])
	}
	return n
}

// Chunk splits files into consecutive batches of at most size entries.
// The concatenation of the batches equals files.
func Chunk(files []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	batches := make([][]string, 0, (len(files)+size-1)/size)
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		batches = append(batches, files[start:end:end])
	}
	return batches
}
