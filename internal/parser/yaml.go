package parser

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/avoskres/satseg/internal/models"
)

func ParseYAMLIndex(reader io.Reader) (models.Index, error) {
	var data models.IndexFile
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse YAML index: %w", err)
	}

	return models.Index(data.Items), nil
}
