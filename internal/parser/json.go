package parser

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/avoskres/satseg/internal/models"
)

func ParseJSONIndex(reader io.Reader) (models.Index, error) {
	var data models.IndexFile
	decoder := json.NewDecoder(reader)

	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON index: %w", err)
	}

	return models.Index(data.Items), nil
}
