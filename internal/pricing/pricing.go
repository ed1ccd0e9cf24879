// Package pricing estimates the dollar cost of token usage per model.
package pricing

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Rate is the price in USD per one million tokens.
type Rate struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

type Model struct {
	Name string `json:"name"`
	Rate
}

type Table struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

func Default() *Table {
	return &Table{rates: map[string]Rate{
		"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
		"gpt-4o":        {Input: 2.50, Output: 10.00},
		"gpt-4-turbo":   {Input: 10.00, Output: 30.00},
		"gpt-4":         {Input: 30.00, Output: 60.00},
		"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},
	}}
}

type overrideFile struct {
	Models map[string]Rate `yaml:"models"`
}

// LoadFile merges the rates of a YAML file into the default table:
//
//	models:
//	  gpt-4o-mini: {input: 0.15, output: 0.60}
func LoadFile(path string) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	for name, rate := range f.Models {
		if rate.Input < 0 || rate.Output < 0 {
			return nil, fmt.Errorf("pricing for %s must not be negative", name)
		}
		t.Set(name, rate)
	}
	return t, nil
}

func (t *Table) Set(model string, r Rate) {
	t.mu.Lock()
	t.rates[model] = r
	t.mu.Unlock()
}

func (t *Table) Lookup(model string) (Rate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[model]
	return r, ok
}

// Cost returns the USD cost of the given token counts; unknown models cost 0.
func (t *Table) Cost(model string, promptTokens, completionTokens int) float64 {
	r, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*r.Input + float64(completionTokens)/1_000_000*r.Output
}

// Models lists known models sorted by name.
func (t *Table) Models() []Model {
	t.mu.RLock()
	ret := make([]Model, 0, len(t.rates))
	for name, r := range t.rates {
		ret = append(ret, Model{Name: name, Rate: r})
	}
	t.mu.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}
