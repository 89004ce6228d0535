package ledger

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/amnesiad/internal/model"
	"github.com/lazypower/amnesiad/internal/score"
)

// RunLifecycleCycle scans the lifecycle index and synthesizes system
// transactions for records that should move on: active records below
// the archive threshold, and archived records that scored out or aged
// out. The transactions go through normal admission, so the state
// change only lands once a block carrying them is mined.
func (c *Chain) RunLifecycleCycle() (int, error) {
	archive := c.manager.ArchiveCandidates(score.ArchiveThreshold)
	forget := c.manager.ForgetCandidates(score.ForgetThreshold, score.MaxAgeDays)

	log.Info().
		Int("archiveCandidates", len(archive)).
		Int("forgetCandidates", len(forget)).
		Msg("lifecycle cycle")

	queued := 0
	for i := range archive {
		tx, err := model.NewArchiveTx(model.SystemAddress, &archive[i])
		if err != nil {
			return queued, err
		}
		if err := c.AddTransaction(tx); err != nil {
			log.Warn().Str("record", archive[i].ID).Err(err).Msg("archive transaction rejected")
			continue
		}
		queued++
	}
	for i := range forget {
		tx, err := model.NewForgetTx(model.SystemAddress, &forget[i], "relevance decay")
		if err != nil {
			return queued, err
		}
		if err := c.AddTransaction(tx); err != nil {
			log.Warn().Str("record", forget[i].ID).Err(err).Msg("forget transaction rejected")
			continue
		}
		queued++
	}
	return queued, nil
}

// Start launches the background cycles: the lifecycle sweep on its
// configured interval, and auto-mining when enabled. Stop shuts both
// down.
func (c *Chain) Start() {
	c.manager.StartSweeps()

	go func() {
		lifecycle := time.NewTicker(c.cfg.LifecycleInterval)
		defer lifecycle.Stop()

		var mineCh <-chan time.Time
		if c.cfg.AutoMineInterval > 0 {
			miner := time.NewTicker(c.cfg.AutoMineInterval)
			defer miner.Stop()
			mineCh = miner.C
		}

		for {
			select {
			case <-lifecycle.C:
				if n, err := c.RunLifecycleCycle(); err != nil {
					log.Error().Err(err).Msg("lifecycle cycle failed")
				} else if n > 0 {
					log.Info().Int("queued", n).Msg("lifecycle transactions queued")
				}
			case <-mineCh:
				if _, err := c.MineBlock(c.cfg.MinerAddress); err != nil && err != ErrEmptyMempool {
					log.Error().Err(err).Msg("auto-mining failed")
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the background cycles. Safe to call more than once.
func (c *Chain) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.manager.Stop()
}
