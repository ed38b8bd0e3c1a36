package anonymizer

import (
	"crypto/rand"
	"math/big"

	"ewp-backend/models"
)

// ShuffleLeaves returns the board leaves in a uniformly random order so the
// decryption pass cannot be lined up with cast order. The input is not
// modified.
func ShuffleLeaves(leaves []models.BbLeaf) ([]models.BbLeaf, error) {
	shuffled := make([]models.BbLeaf, len(leaves))
	copy(shuffled, leaves)

	// Fisher-Yates shuffle
	for i := len(shuffled) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		shuffled[i], shuffled[j.Int64()] = shuffled[j.Int64()], shuffled[i]
	}
	return shuffled, nil
}
