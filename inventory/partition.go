package inventory

// Chunk is a half-open index range [Start, End).
type Chunk struct {
	Start int
	End   int
}

// Partition splits n items into ceil(n/size) contiguous chunks of at most
// size items. Every index appears in exactly one chunk.
func Partition(n, size int) []Chunk {
	if n <= 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	chunks := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		chunks = append(chunks, Chunk{Start: start, End: min(start+size, n)})
	}
	return chunks
}
