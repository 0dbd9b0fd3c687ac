package queue

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"

	"vic_tracker/internal/models"
)

type seedEntry struct {
	Username string `yaml:"username"`
	UserID   string `yaml:"user_id"`
}

type seedFile struct {
	Authors []seedEntry `yaml:"authors"`
}

// LoadSeedFile reads the YAML list of starting authors. Entries without a
// username or user id are rejected.
func LoadSeedFile(path string, now time.Time) ([]models.Author, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read seed file %s", path)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, eris.Wrapf(err, "parse seed file %s", path)
	}

	seen := make(map[string]bool, len(sf.Authors))
	authors := make([]models.Author, 0, len(sf.Authors))
	for i, e := range sf.Authors {
		username := strings.TrimSpace(e.Username)
		userID := strings.TrimSpace(e.UserID)
		if username == "" || userID == "" {
			return nil, eris.Errorf("seed entry %d: username and user_id are required", i)
		}
		if seen[username] {
			continue
		}
		seen[username] = true
		authors = append(authors, models.NewAuthor(username, userID, now))
	}
	return authors, nil
}
