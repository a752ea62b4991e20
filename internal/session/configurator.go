// Package session performs the configure_session handshake and remembers
// which session id belongs to which scope.
package session

import (
	"errors"
	"fmt"

	"github.com/atinylittleshell/codex-bridge/internal/config"
	"github.com/atinylittleshell/codex-bridge/internal/protocol"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrNoSessionID is returned by Configure when Params.SessionID is empty.
var ErrNoSessionID = errors.New("session id is required")

// Params are the per-scope inputs to the handshake.
type Params struct {
	SessionID string
	Cwd       string
	// ProjectFolders are the folders open in the scope. They are granted to
	// the sandbox after Cwd.
	ProjectFolders []string
}

// Configurator builds configure_session requests from settings.
type Configurator struct {
	settings *config.Settings
	logger   *zap.Logger
}

func NewConfigurator(settings *config.Settings, logger *zap.Logger) *Configurator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Configurator{settings: settings, logger: logger}
}

// Roots lists the filesystem roots granted to the sandbox, in order: default
// roots, the working directory, project folders, then user permissions.
// Duplicates are kept.
func (c *Configurator) Roots(p Params) []string {
	var cwd []string
	if p.Cwd != "" {
		cwd = []string{p.Cwd}
	}
	return lo.Flatten([][]string{
		c.settings.DefaultRoots,
		cwd,
		p.ProjectFolders,
		c.settings.Permissions,
	})
}

// Op builds the configure_session op for p without sending it.
func (c *Configurator) Op(p Params) protocol.ConfigureSessionOp {
	s := c.settings
	return protocol.ConfigureSessionOp{
		Model:          s.Model,
		ApprovalPolicy: string(s.ApprovalPolicy),
		Provider: protocol.Provider{
			Name:    s.Provider.Name,
			BaseURL: s.Provider.BaseURL,
			WireAPI: s.Provider.WireAPI,
			EnvKey:  s.Provider.EnvKey,
		},
		SandboxPolicy: protocol.SandboxPolicy{
			Mode:        string(s.SandboxMode),
			Permissions: c.Roots(p),
		},
		Cwd: p.Cwd,
	}
}

// Configure sends the single configure_session request for a new channel.
// Its id is the session id; no reply callback is registered.
func (c *Configurator) Configure(sender protocol.Sender, p Params) (protocol.ConfigureSessionOp, error) {
	if p.SessionID == "" {
		return protocol.ConfigureSessionOp{}, ErrNoSessionID
	}
	op := c.Op(p)
	env := protocol.NewConfigureSession(p.SessionID, op)
	if err := sender.Send(env, nil); err != nil {
		return protocol.ConfigureSessionOp{}, fmt.Errorf("failed to configure session %s: %w", p.SessionID, err)
	}
	c.logger.Info("session configured",
		zap.String("session", p.SessionID),
		zap.String("model", op.Model),
		zap.String("cwd", op.Cwd),
		zap.Strings("roots", op.SandboxPolicy.Permissions))
	return env.Op.(protocol.ConfigureSessionOp), nil
}
