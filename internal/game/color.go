package game

import (
	"fmt"
	"math/rand/v2"
)

// generateColors picks evenly spaced hues around the color wheel starting
// from a random offset, then shuffles the result so join order doesn't
// predict which player gets which color. playerCap is the game's actual
// player count, not a fixed ceiling.
func generateColors(playerCap int) []int {
	if playerCap <= 0 {
		return nil
	}
	start := rand.IntN(360)
	step := 360 / playerCap
	hues := make([]int, playerCap)
	for i := range hues {
		hues[i] = (start + i*step) % 360
	}
	rand.Shuffle(len(hues), func(i, j int) { hues[i], hues[j] = hues[j], hues[i] })
	return hues
}

func hslString(hue int) string {
	return fmt.Sprintf("hsl(%d, 100%%, 50%%)", hue)
}

const emptyCellColor = "silver"
