package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelis/threadkit"
)

// Demo: a pool of workers incrementing a shared counter under a mutex,
// a cyclic barrier synchronizing three threads, and a ghost collapsing a
// deterministic choice between candidate states.
func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(zerolog.DebugLevel)

	if err := runPool(log); err != nil {
		log.Fatal().Err(err).Msg("pool demo failed")
	}
	if err := runBarrier(); err != nil {
		log.Fatal().Err(err).Msg("barrier demo failed")
	}
	if err := runGhost(log); err != nil {
		log.Fatal().Err(err).Msg("ghost demo failed")
	}
}

func runPool(log zerolog.Logger) error {
	pool, err := threadkit.NewPool(4,
		threadkit.WithLogger(log),
		threadkit.WithPoolMetrics(50*time.Millisecond, func(s threadkit.PoolStats) {
			log.Info().
				Int64("submitted", s.Submitted).
				Int64("completed", s.Completed).
				Int("queued", s.QueueDepth).
				Msg("pool snapshot")
		}),
	)
	if err != nil {
		return err
	}

	mu := threadkit.NewMutex()
	defer mu.Dispose()
	counter := 0

	for i := 0; i < 200; i++ {
		err := pool.Submit(func(any) {
			if mu.Lock() != nil {
				return
			}
			counter++
			_ = mu.Unlock()
		}, nil)
		if err != nil {
			return err
		}
	}

	pool.Wait()
	if err := pool.Close(); err != nil {
		return err
	}
	fmt.Printf("pool: counter = %d\n", counter)
	return nil
}

func runBarrier() error {
	const parties = 3
	bar, err := threadkit.NewBarrier(parties, true)
	if err != nil {
		return err
	}
	defer func() { _ = bar.Destroy() }()

	threads := make([]*threadkit.Thread[error], parties)
	for i := range threads {
		th := threadkit.NewThread[error]()
		if err := th.Start(func(ctx context.Context) error {
			for i := 0; i < 5; i++ {
				threadkit.Sleep(time.Millisecond)
				if err := bar.Wait(); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		threads[i] = th
	}

	for _, th := range threads {
		res, err := th.Join()
		if err != nil {
			return err
		}
		if res != nil {
			return res
		}
		th.Dispose()
	}
	fmt.Printf("barrier: generation = %d\n", bar.Generation())
	return nil
}

func runGhost(log zerolog.Logger) error {
	engine := threadkit.NewEngine(threadkit.WithEngineLogger(log))
	ghost, err := engine.Create("demo", nil, nil)
	if err != nil {
		return err
	}

	err = engine.Propose(ghost, []threadkit.Candidate{
		{Data: "conservative", Tag: "keep"},
		{Data: "aggressive", Tag: "grow"},
		{Data: "balanced", Tag: "mix"},
	})
	if err != nil {
		return err
	}

	chosen, err := engine.Collapse(ghost)
	if err != nil {
		return err
	}
	fmt.Printf("ghost: chose candidate %d (%v), ledger has %d entries\n",
		chosen, ghost.State(), engine.LedgerLen())
	return nil
}
