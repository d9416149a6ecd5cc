package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Lmdudester/Clawd-sub001/internal/common/config"
	apperrors "github.com/Lmdudester/Clawd-sub001/internal/common/errors"
	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/internal/common/tracing"
	"github.com/Lmdudester/Clawd-sub001/internal/credentials"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// Labels stamped on every session container. These are a stable contract:
// boot reconciliation finds containers from previous runs by them.
const (
	LabelSession   = "clawd.session"
	LabelSessionID = "clawd.session.id"
	LabelInstance  = "clawd.instance"
)

// Stop grace periods. StopGrace applies to user-initiated deletes,
// PruneGrace to boot-time reconciliation of stray containers.
const (
	StopGrace  = 10 * time.Second
	PruneGrace = 5 * time.Second
)

// RunState is the coarse container status reported to the session manager.
type RunState string

const (
	StateRunning  RunState = "running"
	StateStopped  RunState = "stopped"
	StateNotFound RunState = "not_found"
)

// SessionSpec describes the container one session needs.
type SessionSpec struct {
	SessionID      string
	PermissionMode v1.PermissionMode
	RepoURL        string
	Branch         string
	DockerAccess   bool
	ManagerMode    bool

	// Secret material. Written to tempfiles and bind-mounted read-only
	// under /run/secrets; never placed in the container environment.
	SessionToken    string
	ManagerAPIToken string
}

// Manager creates and disposes session containers.
type Manager struct {
	rt     Runtime
	cfg    *config.Config
	creds  *credentials.Info
	logger *logger.Logger

	// secretsRoot holds the per-session secret tempdirs.
	secretsRoot string
}

// NewManager creates a container manager. creds may be nil when no host
// credentials file was discovered; sessions then start without the mount.
func NewManager(rt Runtime, cfg *config.Config, creds *credentials.Info, log *logger.Logger) *Manager {
	return &Manager{
		rt:          rt,
		cfg:         cfg,
		creds:       creds,
		logger:      log.WithFields(zap.String("component", "container_manager")),
		secretsRoot: os.TempDir(),
	}
}

// ContainerName returns the deterministic name of a session's container.
func (m *Manager) ContainerName(sessionID string) string {
	return fmt.Sprintf("clawd-session-%s-%s", m.cfg.Instance.ID, sessionID)
}

func (m *Manager) labels(sessionID string) map[string]string {
	return map[string]string{
		LabelSession:   "true",
		LabelSessionID: sessionID,
		LabelInstance:  m.cfg.Instance.ID,
	}
}

func (m *Manager) instanceLabels() map[string]string {
	return map[string]string{
		LabelSession:  "true",
		LabelInstance: m.cfg.Instance.ID,
	}
}

// CreateSessionContainer creates and starts the container for a session and
// returns its id. On any daemon failure the partially created resources are
// cleaned up best-effort and a ContainerError is returned.
func (m *Manager) CreateSessionContainer(ctx context.Context, spec SessionSpec) (string, error) {
	ctx, span := tracing.Tracer("container").Start(ctx, "CreateSessionContainer")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", spec.SessionID))

	mounts, err := m.prepareSecrets(spec)
	if err != nil {
		return "", apperrors.ContainerError("failed to prepare session secrets", err)
	}

	if info, ok := m.credentialsMount(); ok {
		mounts = append(mounts, info)
	}
	if spec.DockerAccess {
		mounts = append(mounts, MountSpec{
			Source: "/var/run/docker.sock",
			Target: "/var/run/docker.sock",
		})
	}

	containerID, err := m.rt.CreateContainer(ctx, ContainerSpec{
		Name:        m.ContainerName(spec.SessionID),
		Image:       m.cfg.Container.Image,
		Env:         m.buildEnv(spec),
		Labels:      m.labels(spec.SessionID),
		Mounts:      mounts,
		NetworkMode: m.cfg.NetworkName(),
		Memory:      m.cfg.Container.MemoryLimit,
		CPUShares:   m.cfg.Container.CPUShares,
		PidsLimit:   m.cfg.Container.PidsLimit,
	})
	if err != nil {
		m.removeSecrets(spec.SessionID)
		return "", apperrors.ContainerError("failed to create session container", err)
	}

	if err := m.rt.StartContainer(ctx, containerID); err != nil {
		if rmErr := m.rt.RemoveContainer(ctx, containerID, true); rmErr != nil {
			m.logger.Warn("failed to remove container after start failure",
				zap.String("container_id", containerID), zap.Error(rmErr))
		}
		m.removeSecrets(spec.SessionID)
		return "", apperrors.ContainerError("failed to start session container", err)
	}

	m.logger.Info("session container running",
		zap.String("session_id", spec.SessionID),
		zap.String("container_id", containerID))
	return containerID, nil
}

// buildEnv assembles the non-secret container environment.
func (m *Manager) buildEnv(spec SessionSpec) []string {
	env := []string{
		"SESSION_ID=" + spec.SessionID,
		"PERMISSION_MODE=" + string(spec.PermissionMode),
		"GIT_REPO_URL=" + spec.RepoURL,
		"GIT_BRANCH=" + spec.Branch,
		"ANTHROPIC_MODEL=opus",
	}
	if m.cfg.Git.UserName != "" {
		env = append(env, "GIT_USER_NAME="+m.cfg.Git.UserName)
	}
	if m.cfg.Git.UserEmail != "" {
		env = append(env, "GIT_USER_EMAIL="+m.cfg.Git.UserEmail)
	}
	if spec.DockerAccess {
		env = append(env, "DOCKER_HOST=unix:///var/run/docker.sock")
	}
	if spec.ManagerMode {
		env = append(env,
			"MANAGER_MODE=true",
			"MASTER_HTTP_URL="+m.cfg.MasterHTTPURL(),
		)
	}
	return env
}

// Secret file names under /run/secrets inside the container.
const (
	SecretSessionToken    = "session_token"
	SecretMasterWSURL     = "master_ws_url"
	SecretGitHubToken     = "github_token"
	SecretClaudeOAuth     = "claude_code_oauth_token"
	SecretManagerAPIToken = "manager_api_token"
)

// prepareSecrets writes the session's secret material into a private tempdir
// and returns read-only bind mounts targeting /run/secrets.
func (m *Manager) prepareSecrets(spec SessionSpec) ([]MountSpec, error) {
	dir := m.secretsDir(spec.SessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	secrets := map[string]string{
		SecretSessionToken: spec.SessionToken,
		SecretMasterWSURL:  m.cfg.MasterWSURL(),
	}
	if m.cfg.Secrets.GitHubToken != "" {
		secrets[SecretGitHubToken] = m.cfg.Secrets.GitHubToken
	}
	if m.cfg.Secrets.ClaudeOAuthToken != "" {
		secrets[SecretClaudeOAuth] = m.cfg.Secrets.ClaudeOAuthToken
	}
	if spec.ManagerMode && spec.ManagerAPIToken != "" {
		secrets[SecretManagerAPIToken] = spec.ManagerAPIToken
	}

	mounts := make([]MountSpec, 0, len(secrets))
	for name, value := range secrets {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
		mounts = append(mounts, MountSpec{
			Source:   TranslateHostPath(m.cfg.Container.HostDrivePrefix, path),
			Target:   "/run/secrets/" + name,
			ReadOnly: true,
		})
	}
	return mounts, nil
}

func (m *Manager) secretsDir(sessionID string) string {
	return filepath.Join(m.secretsRoot, "clawd-secrets-"+sessionID)
}

func (m *Manager) removeSecrets(sessionID string) {
	if err := os.RemoveAll(m.secretsDir(sessionID)); err != nil {
		m.logger.Warn("failed to remove session secrets dir",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// credentialsMount returns the host credentials bind when discovered.
func (m *Manager) credentialsMount() (MountSpec, bool) {
	if m.creds == nil {
		return MountSpec{}, false
	}
	return MountSpec{
		Source:   TranslateHostPath(m.cfg.Container.HostDrivePrefix, m.creds.FilePath),
		Target:   "/home/node/.claude/.credentials.json",
		ReadOnly: true,
	}, true
}

// StopAndRemove stops (10 s grace) and force-removes a session's container
// plus its secret tempdir. A missing container is not an error.
func (m *Manager) StopAndRemove(ctx context.Context, sessionID string) error {
	ctx, span := tracing.Tracer("container").Start(ctx, "StopAndRemove")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	defer m.removeSecrets(sessionID)

	info, err := m.find(ctx, sessionID)
	if err != nil {
		return apperrors.ContainerError("failed to look up session container", err)
	}
	if info == nil {
		return nil
	}

	if err := m.rt.StopContainer(ctx, info.ID, StopGrace); err != nil {
		m.logger.Warn("failed to stop session container, forcing removal",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := m.rt.RemoveContainer(ctx, info.ID, true); err != nil {
		return apperrors.ContainerError("failed to remove session container", err)
	}
	return nil
}

// Status reports whether the session's container is running, stopped, or gone.
func (m *Manager) Status(ctx context.Context, sessionID string) (RunState, error) {
	info, err := m.find(ctx, sessionID)
	if err != nil {
		return StateNotFound, apperrors.ContainerError("failed to look up session container", err)
	}
	if info == nil {
		return StateNotFound, nil
	}
	if info.State == "running" {
		return StateRunning, nil
	}
	return StateStopped, nil
}

func (m *Manager) find(ctx context.Context, sessionID string) (*ContainerInfo, error) {
	infos, err := m.rt.ListContainers(ctx, m.labels(sessionID))
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}

// Reconcile runs at boot: ensures the session network exists, then stops
// (5 s grace) and removes every container carrying this instance's labels
// whose session id is not in keep. Prune failures are logged, not fatal.
func (m *Manager) Reconcile(ctx context.Context, keep map[string]bool) error {
	ctx, span := tracing.Tracer("container").Start(ctx, "Reconcile")
	defer span.End()

	if err := m.rt.EnsureNetwork(ctx, m.cfg.NetworkName()); err != nil {
		return apperrors.ContainerError("failed to ensure session network", err)
	}

	infos, err := m.rt.ListContainers(ctx, m.instanceLabels())
	if err != nil {
		return apperrors.ContainerError("failed to list session containers", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, info := range infos {
		sessionID := info.Labels[LabelSessionID]
		if sessionID != "" && keep[sessionID] {
			continue
		}
		info := info
		g.Go(func() error {
			m.logger.Info("pruning stray session container",
				zap.String("container_id", info.ID),
				zap.String("session_id", sessionID))
			if err := m.rt.StopContainer(gctx, info.ID, PruneGrace); err != nil {
				m.logger.Warn("failed to stop stray container",
					zap.String("container_id", info.ID), zap.Error(err))
			}
			if err := m.rt.RemoveContainer(gctx, info.ID, true); err != nil {
				m.logger.Warn("failed to remove stray container",
					zap.String("container_id", info.ID), zap.Error(err))
			}
			if sessionID != "" {
				m.removeSecrets(sessionID)
			}
			return nil
		})
	}
	return g.Wait()
}
