package credits

// CalculateCost prices one documentation run: a base fee plus a share for
// repository size, touched files and estimated prompt tokens.
func CalculateCost(lines, files, tokens int64) int64 {
	if lines < 0 {
		lines = 0
	}
	if files < 0 {
		files = 0
	}
	if tokens < 0 {
		tokens = 0
	}
	return 10 + ceilDiv(lines, 1000) + files*2 + ceilDiv(tokens, 1000)
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// EstimateTokens approximates prompt size at four characters per token.
func EstimateTokens(chars int) int64 {
	return ceilDiv(int64(chars), 4)
}
