package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ChainPilot/internal/config"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/rpc"
)

type entry struct {
	network web3.Network
	client  *rpc.Client
}

// Registry manages one fallback RPC client per configured chain. Endpoint
// lists are resolved once here and never re-derived.
type Registry struct {
	defaultChain string
	byName       map[string]*entry
	byID         map[int64]*entry
}

// NewRegistry loads chain definitions and instantiates the RPC clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config, opts ...rpc.Option) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	return newRegistry(ctx, defs, cfg, opts...)
}

func newRegistry(ctx context.Context, defs web3.ChainDefinitions, cfg config.Web3Config, opts ...rpc.Option) (*Registry, error) {
	r := &Registry{byName: map[string]*entry{}, byID: map[int64]*entry{}}

	names := make([]string, 0, len(defs.Chains))
	for name := range defs.Chains {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs.Chains[name]
		override := ""
		if name == cfg.DefaultChain || len(defs.Chains) == 1 {
			override = cfg.RPCOverride
		}
		network := web3.Network{
			Name:        name,
			ChainID:     def.ChainID,
			Endpoints:   def.Endpoints(override),
			Tokens:      def.Tokens,
			Description: def.Description,
		}
		if _, dup := r.byID[network.ChainID]; dup {
			r.Close()
			return nil, fmt.Errorf("链 ID %d 重复配置", network.ChainID)
		}
		client, err := rpc.Dial(ctx, network.Endpoints, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		e := &entry{network: network, client: client}
		r.byName[name] = e
		r.byID[network.ChainID] = e
	}

	if len(r.byName) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	r.defaultChain = strings.TrimSpace(cfg.DefaultChain)
	if r.defaultChain == "" {
		r.defaultChain = names[0]
	}
	if _, ok := r.byName[r.defaultChain]; !ok {
		r.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", r.defaultChain)
	}
	return r, nil
}

// Default returns the network configured as default chain.
func (r *Registry) Default() web3.Network {
	return r.byName[r.defaultChain].network
}

// Network returns the chain identified by its numeric id.
func (r *Registry) Network(chainID int64) (web3.Network, bool) {
	if r == nil {
		return web3.Network{}, false
	}
	e, ok := r.byID[chainID]
	if !ok {
		return web3.Network{}, false
	}
	return e.network, true
}

// Reader returns the read side of a chain for plan execution.
func (r *Registry) Reader(chainID int64) (web3.Reader, error) {
	client, err := r.RPC(chainID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Tokens returns the token contracts configured for a chain.
func (r *Registry) Tokens(chainID int64) web3.TokenAddresses {
	network, _ := r.Network(chainID)
	return network.Tokens
}

// Networks returns every configured network ordered by name.
func (r *Registry) Networks() []web3.Network {
	names := r.Chains()
	out := make([]web3.Network, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name].network)
	}
	return out
}

// RPC returns the fallback RPC client for a chain.
func (r *Registry) RPC(chainID int64) (*rpc.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	e, ok := r.byID[chainID]
	if !ok {
		return nil, fmt.Errorf("链 %d 未在注册表中", chainID)
	}
	return e.client, nil
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, e := range r.byName {
		if e.client != nil {
			e.client.Close()
		}
		delete(r.byName, name)
	}
	r.byID = map[int64]*entry{}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
