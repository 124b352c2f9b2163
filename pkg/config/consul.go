//go:build consul

package config

import (
	"fmt"
	"strings"

	consulapi "github.com/hashicorp/consul/api"
	"gopkg.in/yaml.v3"
)

// ConsulPeers lists bridge peers stored as one JSON or YAML document per key
// under prefix (requires build tag consul).
func ConsulPeers(c ConsulConfig) ([]BridgePeer, error) {
	cfg := consulapi.DefaultConfig()
	if c.Address != "" {
		cfg.Address = c.Address
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	pairs, _, err := cli.KV().List(c.Prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("consul list %s: %w", c.Prefix, err)
	}
	var out []BridgePeer
	for _, kv := range pairs {
		if len(kv.Value) == 0 {
			continue
		}
		var p BridgePeer
		if err := yaml.Unmarshal(kv.Value, &p); err != nil {
			return nil, fmt.Errorf("consul key %s: %w", kv.Key, err)
		}
		if p.Name == "" {
			p.Name = strings.TrimPrefix(kv.Key, c.Prefix)
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("consul key %s: %w", kv.Key, err)
		}
		out = append(out, p)
	}
	return out, nil
}
