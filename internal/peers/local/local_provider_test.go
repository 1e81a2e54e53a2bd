package localpeers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/peers"
)

var _ peers.IPeerProvider = (*LocalPeerProvider)(nil)

func TestNewLocalPeerProviderValidates(t *testing.T) {
	inline := []*model.PeerSpec{{NumSamples: 4}}
	for name, cfg := range map[string]Config{
		"no dim":        {Peers: inline, BatchSize: 2, ValSize: 2},
		"no batch size": {Peers: inline, Dim: 2, ValSize: 2},
		"no val size":   {Peers: inline, Dim: 2, BatchSize: 2},
		"no peers":      {Dim: 2, BatchSize: 2, ValSize: 2},
	} {
		if _, err := NewLocalPeerProvider(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestInlinePeers(t *testing.T) {
	p, err := NewLocalPeerProvider(Config{
		Peers:     []*model.PeerSpec{{NumSamples: 10, Noise: 0.1}, {Name: "far", NumSamples: 5, Shift: 3}},
		Seed:      3,
		Dim:       2,
		BatchSize: 4,
		ValSize:   8,
	})
	if err != nil {
		t.Fatalf("NewLocalPeerProvider: %v", err)
	}

	specs, err := p.GetAvailablePeers()
	if err != nil {
		t.Fatalf("GetAvailablePeers: %v", err)
	}
	if specs[0].Id != 0 || specs[0].Name != "peer-0" || specs[1].Id != 1 || specs[1].Name != "far" {
		t.Fatalf("unexpected specs %+v %+v", specs[0], specs[1])
	}

	loader, err := p.CreatePeerLoader(specs[0])
	if err != nil {
		t.Fatalf("CreatePeerLoader: %v", err)
	}
	if loader.Len() != 3 {
		t.Fatalf("10 samples in batches of 4 should give 3 batches, got %d", loader.Len())
	}

	val, err := p.CreateValidationLoader()
	if err != nil {
		t.Fatalf("CreateValidationLoader: %v", err)
	}
	if val.Len() != 2 {
		t.Fatalf("expected 2 validation batches, got %d", val.Len())
	}

	if got := len(p.InitParams()); got != p.GetModel().NumParams() {
		t.Fatalf("InitParams has %d entries, model %d", got, p.GetModel().NumParams())
	}
}

func TestShardsAreDeterministic(t *testing.T) {
	cfg := Config{Peers: []*model.PeerSpec{{NumSamples: 6}, {NumSamples: 6}}, Seed: 9, Dim: 3, BatchSize: 6, ValSize: 4}
	a, _ := NewLocalPeerProvider(cfg)
	b, _ := NewLocalPeerProvider(cfg)

	specsA, _ := a.GetAvailablePeers()
	specsB, _ := b.GetAvailablePeers()

	// created in opposite order
	la1, _ := a.CreatePeerLoader(specsA[1])
	lb0, _ := b.CreatePeerLoader(specsB[0])
	lb1, _ := b.CreatePeerLoader(specsB[1])
	_ = lb0

	batchA, _ := la1.Next()
	batchB, _ := lb1.Next()
	for i := range batchA.Targets {
		if batchA.Targets[i] != batchB.Targets[i] {
			t.Fatalf("shard of peer 1 differs between providers at %d", i)
		}
	}
}

func TestPeersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.csv")
	if err := os.WriteFile(path, []byte("a, 8, 0.1, 0\nb, 8, 0.1, 2, 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := NewLocalPeerProvider(Config{PeersFile: path, Dim: 2, BatchSize: 4, ValSize: 4})
	if err != nil {
		t.Fatalf("NewLocalPeerProvider: %v", err)
	}
	specs, err := p.GetAvailablePeers()
	if err != nil {
		t.Fatalf("GetAvailablePeers: %v", err)
	}
	if len(specs) != 2 || specs[1].LinkCost != 3 {
		t.Fatalf("unexpected specs %+v", specs)
	}
}
