package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type companyFile struct {
	Companies []*domain.CompanyData `json:"companies" yaml:"companies"`
}

type comparableFile struct {
	Comparables []domain.Comparable `json:"comparables" yaml:"comparables"`
}

// decodeFile reads a JSON file by extension and YAML otherwise.
func decodeFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(raw, v)
	} else {
		err = yaml.Unmarshal(raw, v)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func loadCompanies(path string) ([]*domain.CompanyData, error) {
	var f companyFile
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	if len(f.Companies) == 0 {
		return nil, fmt.Errorf("no companies in %s", path)
	}
	return f.Companies, nil
}

func loadComparables(path string) ([]domain.Comparable, error) {
	var f comparableFile
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	return f.Comparables, nil
}
