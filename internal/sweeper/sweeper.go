// Package sweeper removes uploaded attachments that no message refers to.
// Such objects are left behind when a send uploads a file and then fails to
// persist its message.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/jobchat/internal/metrics"
	"github.com/vovakirdan/jobchat/internal/objstore"
)

// References reports whether a stored message points at an object.
type References interface {
	AttachmentReferenced(ctx context.Context, ref string) (bool, error)
}

// Sweeper deletes unreferenced objects older than a grace period. The grace
// period keeps uploads whose message is still being persisted.
type Sweeper struct {
	bucket objstore.Bucket
	refs   References
	grace  time.Duration
	now    func() time.Time
	log    *zerolog.Logger
}

// New builds a sweeper over bucket.
func New(bucket objstore.Bucket, refs References, grace time.Duration, logger *zerolog.Logger) *Sweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Sweeper{
		bucket: bucket,
		refs:   refs,
		grace:  grace,
		now:    time.Now,
		log:    logger,
	}
}

// Sweep runs one pass and returns the number of objects removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	objects, err := s.bucket.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	cutoff := s.now().Add(-s.grace)
	candidates := lo.Filter(objects, func(o objstore.Object, _ int) bool {
		return o.ModTime.Before(cutoff)
	})

	var orphans []string
	for _, o := range candidates {
		referenced, err := s.refs.AttachmentReferenced(ctx, o.Path)
		if err != nil {
			return 0, fmt.Errorf("sweep: check %s: %w", o.Path, err)
		}
		if !referenced {
			orphans = append(orphans, o.Path)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	if err := s.bucket.Remove(ctx, orphans...); err != nil {
		return 0, fmt.Errorf("sweep: remove: %w", err)
	}
	metrics.OrphansRemoved.Add(float64(len(orphans)))
	s.log.Info().Int("removed", len(orphans)).Int("scanned", len(objects)).Msg("orphaned attachments removed")
	return len(orphans), nil
}

// Start schedules Sweep with a cron spec such as "@every 1h" and stops the
// schedule when ctx is done.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	quartz := cron.New(cron.WithLogger(cron.PrintfLogger(s.log)))
	if _, err := quartz.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn().Err(err).Msg("sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	quartz.Start()

	go func() {
		<-ctx.Done()
		<-quartz.Stop().Done()
		s.log.Debug().Msg("sweeper stopped")
	}()
	return nil
}
