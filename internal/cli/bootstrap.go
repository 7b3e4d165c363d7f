package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/auth"
	"github.com/usedatabrew/klaviyo-source/internal/config"
	"github.com/usedatabrew/klaviyo-source/internal/httpclient"
	"github.com/usedatabrew/klaviyo-source/internal/logging"
	"github.com/usedatabrew/klaviyo-source/internal/protocol"
	"github.com/usedatabrew/klaviyo-source/internal/ratelimit"
	"github.com/usedatabrew/klaviyo-source/internal/retry"
	"github.com/usedatabrew/klaviyo-source/internal/state"
	"github.com/usedatabrew/klaviyo-source/internal/stream"
)

// runtime bundles the collaborators every subcommand needs, built once
// from a decoded config document and shared with the Writer used for
// protocol output.
type runtime struct {
	cfg      config.Config
	writer   *protocol.Writer
	log      *logrus.Entry
	client   *httpclient.Client
	limiters *ratelimit.Registry
}

// newRuntime decodes the configuration at configPath and wires the
// client's collaborators the way §4.2-§4.3 compose them: a signer behind
// an OAuth-profile invoker, a rate limiter registry, and a general-profile
// invoker in front of the HTTP client itself.
func newRuntime(configPath string, w *protocol.Writer, forceDebug bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.Debug = cfg.Debug || forceDebug

	logger := logging.New(w, cfg.Debug)
	log := logrus.NewEntry(logger)

	oauthInvoker := retry.NewInvoker(retry.OAuthProfile, logger)
	signer, err := auth.NewSigner(cfg.Credentials, oauthInvoker)
	if err != nil {
		return nil, fmt.Errorf("building signer: %w", err)
	}

	limiters := ratelimit.NewRegistry()
	invoker := retry.NewInvoker(retry.DefaultProfile, logger)
	client := httpclient.New(signer, limiters, invoker)

	return &runtime{cfg: cfg, writer: w, log: log, client: client, limiters: limiters}, nil
}

// streams builds every stream this connector discovers, in a fixed order
// matching §6's catalog listing.
func (rt *runtime) streams(spoolDir string) []stream.Stream {
	init := rt.cfg.Initialize
	return []stream.Stream{
		stream.NewEvents(rt.client, rt.log, init, spoolDir),
		stream.NewProfiles(rt.client, rt.log, init, spoolDir),
		stream.NewCampaigns(rt.client, rt.log, init, spoolDir),
		stream.NewFlows(rt.client, rt.log, init, spoolDir),
		stream.NewTemplates(rt.client, rt.log, init, spoolDir),
		stream.NewMetrics(rt.client, rt.log, init, spoolDir),
	}
}

// loadOrFreshState loads the --state document if statePath is non-empty,
// otherwise returns a fresh, empty Manager.
func loadOrFreshState(statePath string) (*state.Manager, error) {
	if statePath == "" {
		return state.New(), nil
	}
	raw, err := os.ReadFile(statePath)
	if err != nil {
		return nil, fmt.Errorf("reading state %s: %w", statePath, err)
	}
	return state.Load(raw)
}

// reportFailure writes an ERRORED status for err and returns err itself,
// so the process both emits the protocol-required status message and
// exits non-zero — returning WriteStatus's own result here would mask a
// real failure behind a successful status write.
func reportFailure(w *protocol.Writer, err error, code string) error {
	if werr := w.WriteStatus(protocol.NewErroredStatus(err.Error(), code)); werr != nil {
		return werr
	}
	return err
}

func spoolDir() string {
	dir := os.Getenv("KLAVIYO_SOURCE_SPOOL_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return dir
}
