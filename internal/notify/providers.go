package notify

import (
	"context"
	"os"
	"os/exec"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
)

// LogProvider writes notifications to the structured log. Always available;
// it is the floor every deployment gets.
type LogProvider struct {
	logger *logger.Logger
}

// NewLogProvider creates the log sink provider.
func NewLogProvider(log *logger.Logger) *LogProvider {
	return &LogProvider{logger: log.WithFields(zap.String("component", "notify_log"))}
}

func (p *LogProvider) Name() string    { return "log" }
func (p *LogProvider) Available() bool { return true }

func (p *LogProvider) Send(_ context.Context, n Notification) error {
	p.logger.Info("notification",
		zap.String("session_id", n.SessionID),
		zap.String("session", n.SessionName),
		zap.String("title", n.Title),
		zap.String("body", n.Body))
	return nil
}

// AppriseProvider delivers through the apprise CLI, which fans out to
// whatever services its target URLs name.
type AppriseProvider struct {
	binary  string
	targets []string
}

// NewAppriseProvider creates an apprise provider for the given target URLs.
func NewAppriseProvider(targets []string) *AppriseProvider {
	return &AppriseProvider{binary: "apprise", targets: targets}
}

func (p *AppriseProvider) Name() string { return "apprise" }

// Available reports whether the apprise binary is on PATH and at least one
// target is configured.
func (p *AppriseProvider) Available() bool {
	if len(p.targets) == 0 {
		return false
	}
	_, err := exec.LookPath(p.binary)
	return err == nil
}

func (p *AppriseProvider) Send(ctx context.Context, n Notification) error {
	args := []string{"-t", n.Title, "-b", n.Body}
	args = append(args, p.targets...)
	return exec.CommandContext(ctx, p.binary, args...).Run()
}

// TargetsConfig is the YAML document CLAWD_NOTIFY_CONFIG points at.
type TargetsConfig struct {
	Apprise struct {
		Targets []string `yaml:"targets"`
	} `yaml:"apprise"`
}

// LoadTargets reads the notification targets file. An empty path or a
// missing file yields an empty config.
func LoadTargets(path string) (*TargetsConfig, error) {
	cfg := &TargetsConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
