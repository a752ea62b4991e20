package bridge

import (
	"context"
	"fmt"
	"os"

	"github.com/atinylittleshell/codex-bridge/internal/config"
	"github.com/atinylittleshell/codex-bridge/internal/process"
	"github.com/atinylittleshell/codex-bridge/internal/protocol"
	"github.com/atinylittleshell/codex-bridge/internal/session"
	"go.uber.org/zap"
)

// ProtoSubcommand puts the codex CLI into line-JSON protocol mode.
const ProtoSubcommand = "proto"

// ScopeInfo is what the host knows about a scope.
type ScopeInfo struct {
	Folders []string
	// Persistent scopes keep their session id across bridges.
	Persistent bool
}

// ScopeResolver looks up a scope by key.
type ScopeResolver func(key string) (ScopeInfo, error)

// Launcher is the production Factory: it spawns codex, wraps its stdio in a
// channel and runs the session handshake.
type Launcher struct {
	Settings   *config.Settings
	Supervisor *process.Supervisor
	Dispatcher protocol.Dispatcher
	Store      session.Store
	Scopes     ScopeResolver
	Logger     *zap.Logger
}

// Build creates the bridge for key. Nothing is spawned when the credential
// is missing; a spawned agent is terminated if the handshake fails.
func (l *Launcher) Build(ctx context.Context, key string) (*Bridge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := l.logger().With(zap.String("scope", key))

	token, err := l.Settings.Credential()
	if err != nil {
		return nil, err
	}

	var info ScopeInfo
	if l.Scopes != nil {
		if info, err = l.Scopes(key); err != nil {
			return nil, fmt.Errorf("failed to resolve scope %s: %w", key, err)
		}
	}
	cwd, err := workingDir(info)
	if err != nil {
		return nil, err
	}

	sessionID, resumed, err := session.Resolve(l.Store, key, info.Persistent)
	if err != nil {
		return nil, err
	}

	handle, err := l.Supervisor.Launch(process.Config{
		Command: l.Settings.CodexPath,
		Args:    []string{ProtoSubcommand},
		Env:     map[string]string{l.Settings.Provider.EnvKey: token},
		Dir:     cwd,
	})
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.Int("pid", handle.Pid()))

	channel := protocol.NewChannel(handle.Stdout(), handle.Stdin(), l.Dispatcher, logger)
	b := New(key, channel, handle, l.Supervisor, logger)
	b.SessionID = sessionID
	b.Resumed = resumed
	b.Cwd = cwd

	op, err := session.NewConfigurator(l.Settings, logger).Configure(channel, session.Params{
		SessionID:      sessionID,
		Cwd:            cwd,
		ProjectFolders: info.Folders,
	})
	if err != nil {
		b.Terminate()
		return nil, err
	}
	b.Roots = op.SandboxPolicy.Permissions

	logger.Info("agent started", zap.String("session", sessionID), zap.Bool("resumed", resumed))
	return b, nil
}

func (l *Launcher) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// workingDir is the scope's first folder, or the host's working directory.
func workingDir(info ScopeInfo) (string, error) {
	if len(info.Folders) > 0 {
		return info.Folders[0], nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return cwd, nil
}
