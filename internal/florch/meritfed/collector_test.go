package meritfed

import (
	"context"
	"errors"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/task"
	"github.com/hashicorp/go-hclog"
)

func TestSequentialAndParallelCollectSameUpdates(t *testing.T) {
	seq := newFixture(3, 3, 8, shard{32, 0.1, 0}, shard{16, 0.1, 1}, shard{24, 0.1, -1})
	par := newFixture(3, 3, 8, shard{32, 0.1, 0}, shard{16, 0.1, 1}, shard{24, 0.1, -1})

	sc := NewSequentialCollector(seq.model, cyclic(seq.loaders), hclog.NewNullLogger())
	pc := NewParallelCollector(par.model, cyclic(par.loaders), 0, hclog.NewNullLogger())

	var seqOrder, parOrder []int
	seqUpdates, err := sc.Collect(context.Background(), seq.params, []int{0, 1, 2}, func(u model.PeerUpdate) error {
		seqOrder = append(seqOrder, u.PeerId)
		return nil
	})
	if err != nil {
		t.Fatalf("sequential Collect: %v", err)
	}
	parUpdates, err := pc.Collect(context.Background(), par.params, []int{0, 1, 2}, func(u model.PeerUpdate) error {
		parOrder = append(parOrder, u.PeerId)
		return nil
	})
	if err != nil {
		t.Fatalf("parallel Collect: %v", err)
	}

	for i := 0; i < 3; i++ {
		if seqOrder[i] != i || parOrder[i] != i {
			t.Fatalf("updates not handed over in peer order: %v %v", seqOrder, parOrder)
		}
		s, p := seqUpdates[i], parUpdates[i]
		for j := range s.Gradient {
			if s.Gradient[j] != p.Gradient[j] || s.Direction[j] != -s.Gradient[j] {
				t.Fatalf("peer %d entry %d differs: %v vs %v", i, j, s.Gradient[j], p.Gradient[j])
			}
		}
	}
}

func TestCollectCoversExactlyActivePeers(t *testing.T) {
	f := newFixture(1, 2, 4, shard{8, 0, 0}, shard{8, 0, 0}, shard{8, 0, 0})
	sc := NewSequentialCollector(f.model, cyclic(f.loaders), hclog.NewNullLogger())

	updates, err := sc.Collect(context.Background(), f.params, []int{0, 2}, func(model.PeerUpdate) error { return nil })
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if _, ok := updates[1]; ok {
		t.Fatal("update collected for inactive peer 1")
	}
}

func TestParallelCollectorRunsPeersConcurrently(t *testing.T) {
	f := newFixture(2, 2, 4, shard{8, 0, 0}, shard{8, 0, 0}, shard{8, 0, 0}, shard{8, 0, 0})
	pc := NewParallelCollector(newBarrierModel(f.model, 4), cyclic(f.loaders), 0, hclog.NewNullLogger())

	updates, err := pc.Collect(context.Background(), f.params, []int{0, 1, 2, 3}, func(model.PeerUpdate) error { return nil })
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(updates) != 4 {
		t.Fatalf("expected 4 updates, got %d", len(updates))
	}
}

func TestCollectFailsOnLoaderError(t *testing.T) {
	loaderErr := errors.New("disk gone")
	for _, discipline := range []string{"sequential", "parallel"} {
		t.Run(discipline, func(t *testing.T) {
			f := newFixture(1, 2, 4, shard{8, 0, 0}, shard{8, 0, 0})
			loaders := cyclic([]model.Loader{f.loaders[0], &failingLoader{err: loaderErr}})

			var collector PeerUpdateCollector = NewSequentialCollector(f.model, loaders, hclog.NewNullLogger())
			if discipline == "parallel" {
				collector = NewParallelCollector(f.model, loaders, 0, hclog.NewNullLogger())
			}

			seen := 0
			updates, err := collector.Collect(context.Background(), f.params, []int{0, 1}, func(model.PeerUpdate) error {
				seen++
				return nil
			})
			if updates != nil {
				t.Fatalf("partial updates returned: %v", updates)
			}
			if !errors.Is(err, ErrPeerCollection) || !errors.Is(err, loaderErr) {
				t.Fatalf("expected wrapped peer collection error, got %v", err)
			}
			var pce *PeerCollectionError
			if !errors.As(err, &pce) || pce.PeerId != 1 {
				t.Fatalf("expected failure attributed to peer 1, got %v", err)
			}
			if discipline == "parallel" && seen != 0 {
				t.Fatalf("parallel collector handed over %d updates before the barrier", seen)
			}
		})
	}
}

func TestCyclicLoaderRestartsShortShards(t *testing.T) {
	f := newFixture(4, 2, 4, shard{8, 0, 0})
	counting := &countingLoader{Loader: f.loaders[0]}
	loader := NewCyclicLoader(counting)

	for i := 0; i < 7; i++ {
		if _, err := loader.Next(); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}
	if loader.Epoch() != 3 || counting.resets != 3 {
		t.Fatalf("expected 3 restarts, got epoch %d resets %d", loader.Epoch(), counting.resets)
	}
}

func TestCyclicLoaderEmptyShardFails(t *testing.T) {
	loader := NewCyclicLoader(task.NewSliceLoader(nil))
	if _, err := loader.Next(); err == nil {
		t.Fatal("expected error from empty loader")
	}
}
