// Package catalog holds the static challenge and tutor character tables.
//
// The tables are data, not behavior: they are read once at startup from the
// embedded catalog.yaml (or an override file) and never mutated afterwards.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

var ErrNotFound = errors.New("not found")

const DefaultCharacterID = "robot"

// TestCase is one positional-argument tuple and the value the function must return for it.
// Values use JSON types: nil, bool, float64, string, []any and map[string]any.
type TestCase struct {
	Args     []any `yaml:"args" json:"args"`
	Expected any   `yaml:"expected" json:"expected"`
}

type Challenge struct {
	ID           string     `yaml:"id" json:"id"`
	Title        string     `yaml:"title" json:"title"`
	FunctionName string     `yaml:"function_name" json:"function_name"`
	Description  string     `yaml:"description" json:"description"`
	TestCases    []TestCase `yaml:"test_cases" json:"test_cases"`
}

type Character struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Greeting string `yaml:"greeting" json:"greeting"`
	Avatar   string `yaml:"avatar" json:"avatar"`
	Prompt   string `yaml:"prompt" json:"-"`
}

type Catalog struct {
	challenges []Challenge
	characters []Character
	byID       map[string]int
	charByID   map[string]int
}

type document struct {
	Challenges []Challenge `yaml:"challenges"`
	Characters []Character `yaml:"characters"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// Load reads a catalog file, falling back to the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		byID:     make(map[string]int, len(doc.Challenges)),
		charByID: make(map[string]int, len(doc.Characters)),
	}

	for i, ch := range doc.Challenges {
		if ch.ID == "" || ch.FunctionName == "" {
			return nil, fmt.Errorf("challenge %d: id and function_name are required", i)
		}
		if _, dup := c.byID[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate challenge id %q", ch.ID)
		}
		if len(ch.TestCases) == 0 {
			return nil, fmt.Errorf("challenge %q has no test cases", ch.ID)
		}
		for j := range ch.TestCases {
			tc, err := normalizeCase(ch.TestCases[j])
			if err != nil {
				return nil, fmt.Errorf("challenge %q case %d: %w", ch.ID, j, err)
			}
			ch.TestCases[j] = tc
		}
		c.byID[ch.ID] = len(c.challenges)
		c.challenges = append(c.challenges, ch)
	}

	for i, char := range doc.Characters {
		if char.ID == "" || char.Prompt == "" {
			return nil, fmt.Errorf("character %d: id and prompt are required", i)
		}
		if _, dup := c.charByID[char.ID]; dup {
			return nil, fmt.Errorf("duplicate character id %q", char.ID)
		}
		c.charByID[char.ID] = len(c.characters)
		c.characters = append(c.characters, char)
	}

	return c, nil
}

// normalizeCase converts YAML-decoded values (int, map[string]interface{}) into the
// JSON value space so they compare cleanly against values reported by the sandbox.
func normalizeCase(tc TestCase) (TestCase, error) {
	if tc.Args == nil {
		tc.Args = []any{}
	}
	raw, err := json.Marshal(tc)
	if err != nil {
		return TestCase{}, err
	}
	var out TestCase
	if err := json.Unmarshal(raw, &out); err != nil {
		return TestCase{}, err
	}
	return out, nil
}

func (c *Catalog) Challenges() []Challenge {
	out := make([]Challenge, len(c.challenges))
	copy(out, c.challenges)
	return out
}

func (c *Catalog) Challenge(id string) (Challenge, error) {
	i, ok := c.byID[id]
	if !ok {
		return Challenge{}, fmt.Errorf("challenge %q: %w", id, ErrNotFound)
	}
	return c.challenges[i], nil
}

func (c *Catalog) Characters() []Character {
	out := make([]Character, len(c.characters))
	copy(out, c.characters)
	return out
}

func (c *Catalog) Character(id string) (Character, error) {
	i, ok := c.charByID[id]
	if !ok {
		return Character{}, fmt.Errorf("character %q: %w", id, ErrNotFound)
	}
	return c.characters[i], nil
}

// DefaultCharacter returns the robot tutor, or the first character when the
// catalog does not define one.
func (c *Catalog) DefaultCharacter() (Character, error) {
	if ch, err := c.Character(DefaultCharacterID); err == nil {
		return ch, nil
	}
	if len(c.characters) == 0 {
		return Character{}, fmt.Errorf("no characters: %w", ErrNotFound)
	}
	return c.characters[0], nil
}
