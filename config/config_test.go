package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicd/minicd/logger"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadExplicitTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.toml")
	writeFile(t, path, `
address = "127.0.0.1"
port = 8080
repo_dir = "/srv/git"
index_interval_secs = 60
secrets_file = "/etc/minicd/secrets.yaml"
default_shell = "bash -e"

[email]
smtp_server = "smtp.example.com"
smtp_port = 587
username = "ci"
password = "hunter2"
from_address = "ci@example.com"

[metrics]
statsd = true
statsd_host = "10.0.0.1:8125"
`)

	cfg, err := Load(logger.Discard, path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Address)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/srv/git", cfg.RepoDir)
	assert.Equal(t, 60*time.Second, cfg.IndexInterval())
	assert.Equal(t, "/etc/minicd/secrets.yaml", cfg.SecretsFile)
	assert.Equal(t, "bash -e", cfg.DefaultShell)

	require.True(t, cfg.Email.Configured())
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTPServer)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.Equal(t, "ci", cfg.Email.Username)
	assert.Equal(t, "hunter2", cfg.Email.Password)
	assert.Equal(t, "ci@example.com", cfg.Email.From)

	assert.True(t, cfg.Metrics.Statsd)
	assert.Equal(t, "10.0.0.1:8125", cfg.Metrics.StatsdHost)
}

func TestLoadExplicitYAMLAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.yaml")
	writeFile(t, path, "port: 9090\nrepo_dir: /srv/git\n")

	cfg, err := Load(logger.Discard, path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DefaultAddress, cfg.Address)
	assert.Equal(t, 30*time.Second, cfg.IndexInterval())
	assert.Equal(t, DefaultSMTPPort, cfg.Email.SMTPPort)
	assert.Equal(t, DefaultStatsdHost, cfg.Metrics.StatsdHost)
	assert.False(t, cfg.Email.Configured())
	assert.False(t, cfg.Metrics.Statsd)
}

func TestLoadNullSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.yaml")
	writeFile(t, path, "port: 8080\nemail:\nmetrics:\n")

	cfg, err := Load(logger.Discard, path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Email)
	require.NotNil(t, cfg.Metrics)
	assert.False(t, cfg.Email.Configured(), "a null section reads as unconfigured")
	assert.Equal(t, DefaultSMTPPort, cfg.Email.SMTPPort)
	assert.Equal(t, DefaultStatsdHost, cfg.Metrics.StatsdHost)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(logger.Discard, filepath.Join(t.TempDir(), "minicd.toml"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadLayeredFilesLaterWins(t *testing.T) {
	tmp := t.TempDir()
	t.Chdir(tmp)
	writeFile(t, "minicd.toml", "port = 8080\naddress = \"10.1.1.1\"\n")
	writeFile(t, "minicd.yaml", "port: 9090\n")

	cfg, err := Load(logger.Discard, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port, "a later file overrides the key")
	assert.Equal(t, "10.1.1.1", cfg.Address, "keys the later file omits survive")
}

func TestEnvOverridesFiles(t *testing.T) {
	tmp := t.TempDir()
	t.Chdir(tmp)
	writeFile(t, "minicd.toml", "port = 8080\n")
	t.Setenv("MINICD_PORT", "7070")
	t.Setenv("MINICD_REPO_DIR", "/var/repos")

	cfg, err := Load(logger.Discard, "")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "/var/repos", cfg.RepoDir)
}

func TestEnvNestedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.toml")
	writeFile(t, path, "port = 8080\n")

	t.Setenv("MINICD_EMAIL__SMTP_SERVER", "smtp.example.com")
	t.Setenv("MINICD_EMAIL__USERNAME", "ci")
	t.Setenv("MINICD_EMAIL__PASSWORD", "hunter2")
	t.Setenv("MINICD_EMAIL__FROM_ADDRESS", "ci@example.com")
	t.Setenv("MINICD_METRICS__STATSD", "true")

	cfg, err := Load(logger.Discard, path)
	require.NoError(t, err)

	require.True(t, cfg.Email.Configured())
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTPServer)
	assert.Equal(t, DefaultSMTPPort, cfg.Email.SMTPPort)
	assert.True(t, cfg.Metrics.Statsd)
}

func TestEnvOverlaysNullSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.yaml")
	writeFile(t, path, "port: 8080\nemail:\n")

	t.Setenv("MINICD_EMAIL__SMTP_SERVER", "smtp.example.com")
	t.Setenv("MINICD_EMAIL__USERNAME", "ci")
	t.Setenv("MINICD_EMAIL__PASSWORD", "hunter2")
	t.Setenv("MINICD_EMAIL__FROM_ADDRESS", "ci@example.com")

	cfg, err := Load(logger.Discard, path)
	require.NoError(t, err)

	require.True(t, cfg.Email.Configured())
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTPServer)
}

func TestEnvInvalidInteger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.toml")
	writeFile(t, path, "port = 8080\n")
	t.Setenv("MINICD_PORT", "notaport")

	_, err := Load(logger.Discard, path)
	require.ErrorContains(t, err, "wants an integer")
}

func TestApplyEnvIgnoresUnknownAndForeignKeys(t *testing.T) {
	cfg := &Config{Email: &Email{}, Metrics: &Metrics{}}
	err := applyEnv(cfg, []string{
		"PATH=/usr/bin",
		"MINICD_NO_SUCH_KEY=1",
		"MINICD_EMAIL__NO_SUCH_KEY=1",
		"MINICD_PORT=8080",
	}, logger.Discard)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestInterpolation(t *testing.T) {
	t.Setenv("GIT_ROOT", "/srv/git")
	t.Setenv("STATSD_ADDR", "10.0.0.9:8125")

	path := filepath.Join(t.TempDir(), "minicd.toml")
	writeFile(t, path, `
port = 8080
repo_dir = "${GIT_ROOT}/repos"

[metrics]
statsd_host = "${STATSD_ADDR}"
`)

	cfg, err := Load(logger.Discard, path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/git/repos", cfg.RepoDir)
	assert.Equal(t, "10.0.0.9:8125", cfg.Metrics.StatsdHost)
}

func TestValidation(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing port",
			content: "address = \"127.0.0.1\"\n",
			want:    "a port is required",
		},
		{
			name:    "port out of range",
			content: "port = 70000\n",
			want:    "between 1 and 65535",
		},
		{
			name:    "partial email",
			content: "port = 8080\n\n[email]\nfrom_address = \"ci@example.com\"\n",
			want:    "email configuration is missing smtp_server, username, password",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "minicd.toml")
			writeFile(t, path, tc.content)

			_, err := Load(logger.Discard, path)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.json")
	writeFile(t, path, "{}")

	_, err := Load(logger.Discard, path)
	require.ErrorContains(t, err, "unsupported config format")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minicd.toml")
	writeFile(t, path, "port = [\n")

	_, err := Load(logger.Discard, path)
	require.ErrorContains(t, err, "parsing")
}
