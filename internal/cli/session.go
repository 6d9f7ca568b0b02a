package cli

import (
	"fmt"
	"os"

	"github.com/mediaflow/blobxfer/internal/cloud/providers"
	"github.com/mediaflow/blobxfer/internal/cloud/state"
	cloudtransfer "github.com/mediaflow/blobxfer/internal/cloud/transfer"
	"github.com/mediaflow/blobxfer/internal/config"
	"github.com/mediaflow/blobxfer/internal/events"
	inthttp "github.com/mediaflow/blobxfer/internal/http"
	"github.com/mediaflow/blobxfer/internal/progress"
	"github.com/mediaflow/blobxfer/internal/ratelimit"
	"github.com/mediaflow/blobxfer/internal/transfer"
)

// session owns everything one upload or download command needs: the store
// factory, the manager, the resume database and the progress display.
type session struct {
	manager *transfer.Manager
	bus     *events.EventBus
	state   *state.Store
	display progress.Display
	done    <-chan struct{}
}

func newSession(cfg *config.Config, totalFiles int) (*session, error) {
	log := GetLogger()

	if inthttp.NeedsProxyPassword(cfg) {
		if err := readProxyPassword(cfg); err != nil {
			return nil, err
		}
	}

	httpClient, err := inthttp.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	s := &session{}
	if cfg.Transfer.Resume {
		s.state, err = state.Open(cfg.Transfer.StatePath)
		if err != nil {
			// Resume is an optimization; carry on without it.
			log.Warn().Err(err).Str("path", cfg.Transfer.StatePath).Msg("download resume disabled")
		} else if n, perr := s.state.PruneExpired(); perr != nil {
			log.Warn().Err(perr).Msg("failed to prune resume records")
		} else if n > 0 {
			log.Debug().Int("records", n).Msg("pruned expired resume records")
		}
	}

	s.bus = events.NewEventBus(256)
	s.display = progress.New(totalFiles)
	s.done = progress.Follow(s.bus, s.display)
	log.SetOutput(s.display.Writer())

	s.manager, err = transfer.NewManager(cloudtransfer.ClientOptions{
		Stores:  providers.NewFactory(cfg, httpClient, log),
		Threads: cfg.Transfer.Threads,
		RetryPolicy: &inthttp.ExponentialRetry{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.InitialDelay(),
			MaxDelay:     cfg.MaxDelay(),
		},
		Limiter: ratelimit.NewLimiter(cfg.BandwidthBytesPerSecond(), log),
		State:   s.state,
		Bus:     s.bus,
		Logger:  log,
	}, cfg.Transfer.Concurrent)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// close drains the display and releases the resume database.
func (s *session) close() {
	s.bus.Close()
	<-s.done
	s.display.Wait()
	GetLogger().SetOutput(os.Stderr)

	if n := s.bus.GetDroppedEventCount(); n > 0 {
		GetLogger().Debug().Int64("events", n).Msg("progress events dropped by a slow display")
	}

	if s.state != nil {
		if err := s.state.Close(); err != nil {
			GetLogger().Warn().Err(err).Msg("failed to close resume state")
		}
	}
}

// summarize prints the per-task outcome counts.
func (s *session) summarize(verb string) {
	stats := s.manager.Queue().GetStats()
	fmt.Fprintf(os.Stderr, "%s %d of %d file(s)", verb, stats.Completed, stats.Total())
	if stats.Failed > 0 {
		fmt.Fprintf(os.Stderr, ", %d failed", stats.Failed)
	}
	if stats.Cancelled > 0 {
		fmt.Fprintf(os.Stderr, ", %d cancelled", stats.Cancelled)
	}
	fmt.Fprintln(os.Stderr)
}
