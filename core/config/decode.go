package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/leofalp/aimux/providers/ai"
)

// ProviderEntry is the outcome of decoding one provider from a file. Err is
// set, wrapping ai.ErrConfiguration, when that provider alone is malformed.
type ProviderEntry struct {
	Key    string
	Config ProviderConfig
	Err    error
}

// providersKey is the top-level mapping holding one entry per provider.
const providersKey = "providers"

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} references with environment values. Unset
// variables expand to the empty string; a bare $NAME is left alone.
func ExpandEnv(value string) string {
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Decode parses a YAML (or JSON) provider file:
//
//	providers:
//	  openai:
//	    apiKey: ${OPENAI_API_KEY}
//	    models:
//	      - id: gpt-4o
//	        capabilities: {toolCalling: true}
//
// Each provider node is decoded on its own so one malformed provider only
// marks its own entry. The returned error is reserved for a file that is not
// a document at all. Entries keep file order.
func Decode(data []byte) ([]ProviderEntry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("%w: parse provider file: %w", ai.ErrConfiguration, err)
	}
	root := rootMapping(&document)
	if root == nil {
		return nil, fmt.Errorf("%w: provider file root must be a mapping", ai.ErrConfiguration)
	}

	providers := mappingValue(root, providersKey)
	if providers == nil {
		return nil, nil
	}
	if providers.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %q must be a mapping of provider key to settings", ai.ErrConfiguration, providersKey)
	}

	entries := make([]ProviderEntry, 0, len(providers.Content)/2)
	for i := 0; i+1 < len(providers.Content); i += 2 {
		key := providers.Content[i].Value
		entries = append(entries, decodeProvider(key, providers.Content[i+1]))
	}
	return entries, nil
}

func decodeProvider(key string, node *yaml.Node) ProviderEntry {
	entry := ProviderEntry{Key: key}

	var provider ProviderConfig
	if node.Kind != yaml.MappingNode {
		entry.Err = fmt.Errorf("%w: provider %q: expected a mapping at line %d", ai.ErrConfiguration, key, node.Line)
		return entry
	}
	if err := node.Decode(&provider); err != nil {
		entry.Err = fmt.Errorf("%w: provider %q: %w", ai.ErrConfiguration, key, err)
		return entry
	}
	provider.Key = key
	provider = expandProvider(provider)

	if err := provider.Validate(); err != nil {
		entry.Err = err
		return entry
	}
	entry.Config = provider
	return entry
}

func expandProvider(provider ProviderConfig) ProviderConfig {
	provider.APIKey = ExpandEnv(provider.APIKey)
	provider.BaseURL = ExpandEnv(provider.BaseURL)
	provider.CustomHeader = expandValues(provider.CustomHeader)
	models := make([]ModelConfig, len(provider.Models))
	for i, model := range provider.Models {
		model.BaseURL = ExpandEnv(model.BaseURL)
		model.CustomHeader = expandValues(model.CustomHeader)
		models[i] = model
	}
	provider.Models = models
	return provider
}

func expandValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		if s, ok := value.(string); ok {
			out[key] = ExpandEnv(s)
			continue
		}
		out[key] = value
	}
	return out
}

// Load reads and decodes path. A missing file yields no entries and an error
// matching os.ErrNotExist.
func Load(path string) ([]ProviderEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider file: %w", err)
	}
	return Decode(data)
}

// WriteModels replaces providers.<key>.models in the file at path, keeping
// comments, ordering and ${ENV} templates elsewhere intact. The file must
// already exist: write-back is an optional convenience and never creates
// configuration.
func WriteModels(path string, providerKey string, models []ModelConfig) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("write-back: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("write-back: read: %w", err)
	}

	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("write-back: parse: %w", err)
	}
	root := rootMapping(&document)
	if root == nil {
		return errors.New("write-back: provider file root must be a mapping")
	}

	provider := getOrCreateMapping(getOrCreateMapping(root, providersKey), providerKey)

	var modelsNode yaml.Node
	if err := modelsNode.Encode(models); err != nil {
		return fmt.Errorf("write-back: encode models: %w", err)
	}
	setMappingValue(provider, "models", &modelsNode)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&document); err != nil {
		_ = encoder.Close()
		return fmt.Errorf("write-back: encode: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("write-back: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".aimux-config-*")
	if err != nil {
		return fmt.Errorf("write-back: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write-back: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return fmt.Errorf("write-back: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write-back: %w", err)
	}
	return os.Rename(tmpName, path)
}

func rootMapping(document *yaml.Node) *yaml.Node {
	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 {
		return nil
	}
	root := document.Content[0]
	if root == nil || root.Kind != yaml.MappingNode {
		return nil
	}
	return root
}

func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func getOrCreateMapping(mapping *yaml.Node, key string) *yaml.Node {
	if value := mappingValue(mapping, key); value != nil {
		if value.Kind != yaml.MappingNode {
			value.Kind = yaml.MappingNode
			value.Tag = "!!map"
			value.Value = ""
			value.Content = nil
		}
		return value
	}
	value := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
	return value
}

func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}
