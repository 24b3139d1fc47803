package archive

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/pkg/logging"
)

// LoadUsers reads the user index at path. A missing file yields an empty index.
func LoadUsers(path string) (models.Users, error) {
	users := models.Users{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return users, nil
	}
	if err != nil {
		return users, fmt.Errorf("failed reading users file %s: %w", path, err)
	}
	if err := codec.Unmarshal(data, &users); err != nil {
		return models.Users{}, fmt.Errorf("failed decoding users file %s: %w", path, err)
	}
	logging.WithComponent("archive").Info("Loaded users", zap.String("path", path), zap.Int("count", len(users)))
	return users, nil
}

// WriteUsers saves the user index keyed by screen name in sorted key order
func (w *Writer) WriteUsers(path string, users models.Users) error {
	w.logger.Info("Saving users", zap.String("path", path), zap.Int("count", len(users)))
	return w.WriteJSON(path, users, "", "")
}
