package gossip

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Allowlist restricts which peers may exchange envelopes, adapted from the
// teacher's trusted-peers list: a strict flag gates whether unknown peers
// are rejected, and membership persists to a JSON file.
type Allowlist struct {
	mu     sync.RWMutex
	peers  map[peer.ID]allowedPeer
	path   string
	strict bool
}

type allowedPeer struct {
	PeerID  string `json:"peer_id"`
	AddedAt int64  `json:"added_at"`
}

type allowlistFile struct {
	Peers []allowedPeer `json:"peers"`
}

// NewAllowlist loads an allowlist from path if it exists, creating an empty
// one otherwise. strict, once true, rejects any peer not on the list.
func NewAllowlist(path string, strict bool) (*Allowlist, error) {
	al := &Allowlist{peers: make(map[peer.ID]allowedPeer), path: path, strict: strict}
	if err := al.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return al, nil
}

func (al *Allowlist) Add(id peer.ID) error {
	al.mu.Lock()
	defer al.mu.Unlock()
	al.peers[id] = allowedPeer{PeerID: id.String()}
	return al.save()
}

func (al *Allowlist) Remove(id peer.ID) error {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.peers, id)
	return al.save()
}

func (al *Allowlist) IsAllowed(id peer.ID) bool {
	al.mu.RLock()
	defer al.mu.RUnlock()
	if !al.strict {
		return true
	}
	_, ok := al.peers[id]
	return ok
}

func (al *Allowlist) Count() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.peers)
}

func (al *Allowlist) load() error {
	data, err := os.ReadFile(al.path)
	if err != nil {
		return err
	}
	var f allowlistFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, p := range f.Peers {
		id, err := peer.Decode(p.PeerID)
		if err != nil {
			continue
		}
		al.peers[id] = p
	}
	return nil
}

func (al *Allowlist) save() error {
	if al.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(al.path), 0700); err != nil {
		return fmt.Errorf("gossip: allowlist: create directory: %w", err)
	}
	f := allowlistFile{Peers: make([]allowedPeer, 0, len(al.peers))}
	for _, p := range al.peers {
		f.Peers = append(f.Peers, p)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(al.path, data, 0600)
}
