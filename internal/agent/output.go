package agent

// deltaChunkSize is the fixed SSE chunk size, counted in code points.
const deltaChunkSize = 48

// ChunkAnswer splits the final answer into ordered delta chunks.
func ChunkAnswer(answer string) []string {
	if answer == "" {
		return nil
	}
	runes := []rune(answer)
	var out []string
	for start := 0; start < len(runes); start += deltaChunkSize {
		end := start + deltaChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
