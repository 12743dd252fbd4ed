package challenge

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/incognito-party/incognito/internal/models"
)

// LoadPool loads the challenge catalog from a JSON file
func LoadPool(path string) ([]models.Challenge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var pool []models.Challenge
	if err := json.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for i, c := range pool {
		if c.ID == "" || c.Text == "" {
			return nil, fmt.Errorf("challenge %d in %s is missing id or text", i, path)
		}
	}

	return pool, nil
}
