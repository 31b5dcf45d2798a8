package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// readRequest loads a narrative file. The file is either a full request
// ({narrative, options}) or a bare narrative; .yaml/.yml files are YAML,
// anything else JSON.
func readRequest(path string) (*models.CreateVideoRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	unmarshal := json.Unmarshal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	}

	var req models.CreateVideoRequest
	if err := unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if req.Narrative.Title == "" && req.Narrative.ThreadID == "" {
		if err := unmarshal(data, &req.Narrative); err != nil {
			return nil, fmt.Errorf("failed to parse %s as narrative: %w", path, err)
		}
	}

	if err := validator.New().Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid narrative in %s: %w", path, err)
	}
	return &req, nil
}
