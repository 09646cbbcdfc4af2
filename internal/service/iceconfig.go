package service

import (
	"strings"

	"github.com/procsuite/signaling-server-go/internal/config"
	"github.com/procsuite/signaling-server-go/internal/model"
)

// IceConfigProvider builds the sanitized ICE server list handed to clients.
// Stateless; TURN credentials are attached only to the TURN entry.
type IceConfigProvider struct {
	stun         []string
	turn         []string
	turnUsername string
	turnPassword string
}

func NewIceConfigProvider(cfg *config.Config) *IceConfigProvider {
	return &IceConfigProvider{
		stun:         cleanURLs(cfg.StunServers),
		turn:         cleanURLs(cfg.TurnServers),
		turnUsername: cfg.TurnUsername,
		turnPassword: cfg.TurnPassword,
	}
}

func (p *IceConfigProvider) IceServers() []model.IceServer {
	servers := []model.IceServer{}

	if len(p.stun) > 0 {
		servers = append(servers, model.IceServer{URLs: p.stun})
	}
	if len(p.turn) > 0 {
		servers = append(servers, model.IceServer{
			URLs:       p.turn,
			Username:   p.turnUsername,
			Credential: p.turnPassword,
		})
	}

	return servers
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}
