package asset

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Schema is the identifier scheme of an asset: on-chain stellar or off-chain iso4217.
type Schema string

const (
	SchemaStellar Schema = "stellar"
	SchemaISO4217 Schema = "iso4217"
)

type Asset struct {
	ID                  string `yaml:"id"`
	SignificantDecimals int32  `yaml:"significant_decimals"`
}

func (a Asset) Schema() Schema {
	return SchemaOfID(a.ID)
}

// SchemaOfID derives the schema from the identifier prefix.
func SchemaOfID(id string) Schema {
	if strings.HasPrefix(id, string(SchemaStellar)+":") {
		return SchemaStellar
	}
	return SchemaISO4217
}

type Registry interface {
	IsSupported(id string) bool
	Get(id string) (Asset, bool)
}

type Service struct {
	assets map[string]Asset
}

var DefaultAssets = []Asset{
	{ID: "iso4217:USD", SignificantDecimals: 4},
	{ID: "stellar:USDC:GDQOE23CFSUMSVQK4Y5JHPPYK73VYCNHZHA7ENKCV37P6SUEO6XQBKPP", SignificantDecimals: 7},
	{ID: "stellar:native", SignificantDecimals: 7},
}

func NewService(assets []Asset) (*Service, error) {
	s := &Service{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		if a.ID == "" {
			return nil, fmt.Errorf("asset id is required")
		}
		if a.SignificantDecimals < 0 {
			return nil, fmt.Errorf("asset %s: significant_decimals must be non-negative", a.ID)
		}
		if _, dup := s.assets[a.ID]; dup {
			return nil, fmt.Errorf("asset %s is defined twice", a.ID)
		}
		s.assets[a.ID] = a
	}
	return s, nil
}

func Default() *Service {
	s, _ := NewService(DefaultAssets)
	return s
}

type assetsFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadFile reads an assets yaml file; an empty path yields the default list.
func LoadFile(path string) (*Service, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assets file: %w", err)
	}
	var f assetsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse assets file %s: %w", path, err)
	}
	if len(f.Assets) == 0 {
		return nil, fmt.Errorf("assets file %s defines no assets", path)
	}
	return NewService(f.Assets)
}

func (s *Service) IsSupported(id string) bool {
	_, ok := s.assets[id]
	return ok
}

func (s *Service) Get(id string) (Asset, bool) {
	a, ok := s.assets[id]
	return a, ok
}

func (s *Service) List() []Asset {
	out := make([]Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
