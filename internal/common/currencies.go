package common

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type CurrencyConfig struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type CurrenciesConfig struct {
	Currencies []CurrencyConfig `yaml:"currencies"`
}

// LoadCurrencyConfig reads the supported fiat currencies from a yaml file.
func LoadCurrencyConfig(currenciesFile string) ([]CurrencyConfig, error) {
	var currenciesPath string
	if filepath.IsAbs(currenciesFile) {
		currenciesPath = currenciesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		currenciesPath = filepath.Join(wd, currenciesFile)
	}

	data, err := os.ReadFile(currenciesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", currenciesFile, err)
	}

	var config CurrenciesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", currenciesFile, err)
	}

	for i, currency := range config.Currencies {
		if currency.Code == "" {
			return nil, fmt.Errorf("currency at index %d missing code", i)
		}
		if currency.Name == "" {
			return nil, fmt.Errorf("currency at index %d missing name", i)
		}
	}

	return config.Currencies, nil
}

// LoadCurrencyCodes returns just the fiat currency codes.
func LoadCurrencyCodes(currenciesFile string) ([]string, error) {
	currencies, err := LoadCurrencyConfig(currenciesFile)
	if err != nil {
		return nil, err
	}

	codes := make([]string, len(currencies))
	for i, currency := range currencies {
		codes[i] = currency.Code
	}

	return codes, nil
}
