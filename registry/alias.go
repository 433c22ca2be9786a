package registry

import "fmt"

// aliasFor derives the nth alias in the deterministic sequence
// A, B, …, Z, A1, B1, …, Z1, A2, … under the given prefix.
func aliasFor(prefix string, n int) string {
	letter := rune('A' + n%26)
	batch := n / 26
	if batch == 0 {
		return fmt.Sprintf("%s%c", prefix, letter)
	}
	return fmt.Sprintf("%s%c%d", prefix, letter, batch)
}
