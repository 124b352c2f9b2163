//go:build !consul

package config

import "errors"

// ErrConsulDisabled is returned when the binary was built without the consul tag.
var ErrConsulDisabled = errors.New("consul peer source requires the consul build tag")

// ConsulPeers is unavailable without the consul build tag.
func ConsulPeers(ConsulConfig) ([]BridgePeer, error) {
	return nil, ErrConsulDisabled
}
