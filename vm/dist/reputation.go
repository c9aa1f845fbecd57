package dist

import (
	"sort"
	"sync"
	"time"
)

// DefaultBanThreshold is the number of hash mismatches after which a peer
// is banned.
const DefaultBanThreshold = 3

// PeerReputation tracks the trust level of a single peer.
type PeerReputation struct {
	PeerID         string
	Accepted       int // chunks that loaded and ran
	Rejected       int // chunks refused for policy, load or verification
	HashMismatches int
	VerifyFailures int            // chunks the bytecode verifier rejected
	Rules          map[string]int // verifier rule -> violations across chunks
	Aborted        int            // accepted runs stopped by a resource limit
	LastSeen       time.Time
	Banned         bool
}

func (p *PeerReputation) clone() PeerReputation {
	c := *p
	if p.Rules != nil {
		c.Rules = make(map[string]int, len(p.Rules))
		for r, n := range p.Rules {
			c.Rules[r] = n
		}
	}
	return c
}

// PeerStore maintains reputation data for all peers that submitted chunks.
// It is safe for concurrent use.
type PeerStore struct {
	mu           sync.RWMutex
	peers        map[string]*PeerReputation
	banThreshold int
}

// NewPeerStore creates a peer store. A threshold of zero or less uses
// DefaultBanThreshold.
func NewPeerStore(banThreshold int) *PeerStore {
	if banThreshold <= 0 {
		banThreshold = DefaultBanThreshold
	}
	return &PeerStore{
		peers:        make(map[string]*PeerReputation),
		banThreshold: banThreshold,
	}
}

// Caller must hold the write lock.
func (ps *PeerStore) getOrCreate(peerID string) *PeerReputation {
	p, ok := ps.peers[peerID]
	if !ok {
		p = &PeerReputation{PeerID: peerID}
		ps.peers[peerID] = p
	}
	p.LastSeen = time.Now()
	return p
}

// RecordAccepted records a chunk from peerID that was accepted.
func (ps *PeerStore) RecordAccepted(peerID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.getOrCreate(peerID).Accepted++
}

// RecordRejected records a chunk from peerID that was refused.
func (ps *PeerStore) RecordRejected(peerID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.getOrCreate(peerID).Rejected++
}

// RecordVerifyFailure records a chunk that failed bytecode verification,
// counting each violated rule. It also counts as a rejection.
func (ps *PeerStore) RecordVerifyFailure(peerID string, rules []string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := ps.getOrCreate(peerID)
	p.Rejected++
	p.VerifyFailures++
	if p.Rules == nil {
		p.Rules = make(map[string]int)
	}
	for _, r := range rules {
		p.Rules[r]++
	}
}

// RecordAborted records an accepted run that a resource limit stopped.
func (ps *PeerStore) RecordAborted(peerID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.getOrCreate(peerID).Aborted++
}

// RecordHashMismatch records a hash verification failure and bans the peer
// once it reaches the threshold.
func (ps *PeerStore) RecordHashMismatch(peerID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := ps.getOrCreate(peerID)
	p.HashMismatches++
	if p.HashMismatches >= ps.banThreshold {
		if !p.Banned {
			log.Warningf("banning peer %s after %d hash mismatches", peerID, p.HashMismatches)
		}
		p.Banned = true
	}
}

// IsBanned returns true if the peer has been banned.
func (ps *PeerStore) IsBanned(peerID string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[peerID]
	return ok && p.Banned
}

// GetReputation returns a copy of the peer's reputation data, or nil if the
// peer is unknown.
func (ps *PeerStore) GetReputation(peerID string) *PeerReputation {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[peerID]
	if !ok {
		return nil
	}
	c := p.clone()
	return &c
}

// Peers returns copies of every known peer, ordered by ID.
func (ps *PeerStore) Peers() []PeerReputation {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]PeerReputation, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// PeerCount returns the number of known peers.
func (ps *PeerStore) PeerCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}
