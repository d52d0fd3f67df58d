package advisor

import "regexp"

var (
	evmAddress    = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	base58Address = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
)

// ExtractTokens scans the operator message for token addresses (EVM hex or
// Solana base58). Returns them deduplicated, in order of first mention.
func ExtractTokens(text string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, re := range []*regexp.Regexp{evmAddress, base58Address} {
		for _, m := range re.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				result = append(result, m)
			}
		}
	}
	return result
}
