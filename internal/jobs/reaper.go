package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/procsuite/signaling-server-go/internal/store"
)

// SessionReaper closes sessions that have gone quiet for longer than the
// retention threshold. Both peers observe the closed status on their next
// poll and tear down.
type SessionReaper struct {
	store    store.Store
	interval time.Duration
	ttl      time.Duration
	done     chan struct{}
}

func NewSessionReaper(st store.Store, interval, ttl time.Duration) *SessionReaper {
	return &SessionReaper{
		store:    st,
		interval: interval,
		ttl:      ttl,
		done:     make(chan struct{}),
	}
}

func (j *SessionReaper) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("ttl", j.ttl).Msg("session reaper started")
}

func (j *SessionReaper) Stop() {
	close(j.done)
	log.Info().Msg("session reaper stopped")
}

func (j *SessionReaper) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SessionReaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	closed, err := j.store.CloseIdle(ctx, j.ttl)
	if err != nil {
		log.Error().Err(err).Msg("failed to close idle sessions")
	} else if closed > 0 {
		log.Info().Int64("count", closed).Msg("closed idle sessions")
	}
}
