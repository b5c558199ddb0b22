package conversation

// EstimateTokens estimates the token cost of text with a Unicode-aware
// heuristic: ASCII runs about four characters per token, CJK and other
// non-ASCII scripts about one character per token. The estimate is
// deterministic and monotonic in input length, which is what compaction
// needs to converge; it does not have to match the model's real tokenizer.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight += 1
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// turnOverheadTokens accounts for the role label and framing each buffered
// turn adds to the prompt.
const turnOverheadTokens = 3
