package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of the chain YAML file.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain: its id, candidate RPC endpoints
// and the token contracts plan execution needs.
type ChainDefinition struct {
	ChainID     int64          `yaml:"chain_id"`
	RPCURLs     []string       `yaml:"rpc_urls"`
	RPCURL      string         `yaml:"rpc_url"`
	Description string         `yaml:"description"`
	Tokens      TokenAddresses `yaml:"tokens"`
}

// TokenAddresses holds the contracts approvals are synthesized for.
type TokenAddresses struct {
	Stake    string `yaml:"stake"`
	Purchase string `yaml:"purchase"`
}

// Endpoints returns override first, then rpc_urls, then the single rpc_url,
// with blanks and duplicates removed.
func (d ChainDefinition) Endpoints(override string) []string {
	candidates := make([]string, 0, len(d.RPCURLs)+2)
	candidates = append(candidates, override)
	candidates = append(candidates, d.RPCURLs...)
	candidates = append(candidates, d.RPCURL)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, raw := range candidates {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain metadata from YAML bytes.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		if def.ChainID <= 0 {
			return ChainDefinitions{}, fmt.Errorf("链 %s 缺少有效的 chain_id", name)
		}
	}
	return defs, nil
}
