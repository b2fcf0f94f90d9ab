package transfer

// planChunks divides a file of size fileSize into chunks of chunkSize bytes,
// the final chunk taking whatever remainder is left.
func planChunks(fileSize, chunkSize int64) []Chunk {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	if fileSize == 0 {
		return nil
	}
	n := int((fileSize + chunkSize - 1) / chunkSize)
	chunks := make([]Chunk, 0, n)
	var offset int64
	for i := 0; i < n; i++ {
		size := chunkSize
		if offset+size > fileSize {
			size = fileSize - offset
		}
		chunks = append(chunks, Chunk{Index: i, Offset: offset, Size: size})
		offset += size
	}
	return chunks
}

// firstUnwrittenIndex returns the lowest chunk index not present in
// transferred, i.e. the resume point per spec.md §4.J "resumes at the
// first unwritten chunk".
func firstUnwrittenIndex(transferred []CompletedChunk) int {
	done := make(map[int]bool, len(transferred))
	for _, c := range transferred {
		done[c.Index] = true
	}
	i := 0
	for done[i] {
		i++
	}
	return i
}
