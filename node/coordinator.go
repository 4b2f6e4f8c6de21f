// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package node implements the Node Coordinator: the single goroutine
// that owns the header chain, the filter-header quorum chain, and the
// filter scanner, driving them forward from peer messages and client
// commands. Grounded on original_source's node.rs, whose Node struct
// and run() loop this package's Coordinator and Run translate from
// tokio's select!-driven async loop into an ordinary Go for-select
// loop.
package node

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/lru"

	"github.com/kyotosync/kyoto/addrmgr"
	"github.com/kyotosync/kyoto/cfheader"
	"github.com/kyotosync/kyoto/chain"
	"github.com/kyotosync/kyoto/chaincfg/checkpoint"
	"github.com/kyotosync/kyoto/config"
	"github.com/kyotosync/kyoto/filter"
	"github.com/kyotosync/kyoto/gcs"
	"github.com/kyotosync/kyoto/headerfs"
	"github.com/kyotosync/kyoto/internal/dnsseed"
	"github.com/kyotosync/kyoto/klog"
	"github.com/kyotosync/kyoto/peer"
)

var log = klog.Subsystem("NODE")

const (
	// peerInboundCapacity sizes the shared channel every dialed
	// Connection's reader goroutine feeds, per spec.md §5.
	peerInboundCapacity = 32

	// filterHeaderBatchSize bounds a single getcfheaders round trip.
	filterHeaderBatchSize = 2000

	// filterBatchSize bounds a single getcfilters round trip.
	filterBatchSize = 1000

	// tickInterval is the run loop's housekeeping cadence: peer
	// rehydration, broadcast dispatch, and dispute-timeout checks all
	// run at least this often even with no inbound traffic.
	tickInterval = time.Second

	// disputeTimeout bounds how long the coordinator waits for the
	// disputed block before giving up on arbitration and restarting the
	// filter-header round from scratch.
	disputeTimeout = 30 * time.Second

	// banDuration is how long a peer caught lying about a checkpoint or
	// a filter header is excluded from NextPeer selection.
	banDuration = 24 * time.Hour

	// invCacheSize bounds the recently-seen inv hash cache, just large
	// enough to absorb every peer re-announcing the same new tip without
	// the coordinator re-requesting headers once per peer.
	invCacheSize = 5000
)

// Phase is the coordinator's sync state machine, spec.md §4.5's closed
// set of {Behind, HeadersSynced, FilterHeadersSynced, FiltersSynced,
// TransactionsSynced}.
type Phase int

const (
	Behind Phase = iota
	HeadersSynced
	FilterHeadersSynced
	FiltersSynced
	TransactionsSynced
)

func (p Phase) String() string {
	switch p {
	case Behind:
		return "Behind"
	case HeadersSynced:
		return "HeadersSynced"
	case FilterHeadersSynced:
		return "FilterHeadersSynced"
	case FiltersSynced:
		return "FiltersSynced"
	case TransactionsSynced:
		return "TransactionsSynced"
	default:
		return "Unknown"
	}
}

// disputeState tracks an in-flight filter-header dispute arbitration:
// the coordinator has asked some peer for the disputed block and is
// waiting for it to arrive (or for disputeTimeout to pass).
type disputeState struct {
	height     int32
	blockHash  chainhash.Hash
	prevHeader chainhash.Hash
	deadline   time.Time
}

// Coordinator is the Node Coordinator. It owns every piece of mutable
// sync state and is driven exclusively by its own Run goroutine; no
// other goroutine touches chain/quorum/scanner/scripts directly, though
// those types carry their own locks for the sake of racy tests and
// future embedding flexibility rather than real contention, per
// spec.md §5.
type Coordinator struct {
	params  *chaincfg.Params
	network string

	chain   *chain.Chain
	quorum  *cfheader.Chain
	scanner *filter.Scanner
	scripts *filter.ScriptSet

	peerMgr *addrmgr.Manager
	peerMap *peer.Map
	seeder  addrmgr.Seeder

	whitelist     []string
	requiredPeers int

	phase       Phase
	events      *EventBus
	commands    chan ClientMessage
	broadcaster *broadcaster
	recentInv   *lru.Cache

	pendingDispute *disputeState
}

// New assembles a Coordinator and its paired Client from already-built
// components. Most callers embedding this client in a larger
// application will prefer NewFromConfig; New exists for callers that
// want to substitute their own Store, Seeder, or chain parameters.
func New(
	ch *chain.Chain,
	quorum *cfheader.Chain,
	scripts *filter.ScriptSet,
	peerMgr *addrmgr.Manager,
	peerMap *peer.Map,
	seeder addrmgr.Seeder,
	params *chaincfg.Params,
	network string,
	whitelist []string,
	requiredPeers int,
) (*Coordinator, *Client) {
	anchor := ch.Anchor()
	scanner := filter.NewScanner(quorum, scripts, anchor.Height+1)
	scanner.SetTarget(quorum.Height())

	events := NewEventBus()
	commands := make(chan ClientMessage, clientCommandCapacity)

	co := &Coordinator{
		params:        params,
		network:       network,
		chain:         ch,
		quorum:        quorum,
		scanner:       scanner,
		scripts:       scripts,
		peerMgr:       peerMgr,
		peerMap:       peerMap,
		seeder:        seeder,
		whitelist:     whitelist,
		requiredPeers: requiredPeers,
		events:        events,
		commands:      commands,
		broadcaster:   newBroadcaster(),
		recentInv:     lru.NewCache(invCacheSize),
	}
	client := &Client{events: events.Subscribe(), command: commands}
	return co, client
}

// NewFromConfig wires a Coordinator from an application config, opening
// the on-disk header store and resolving the network's checkpoint table
// the way a standalone kyotod daemon would.
func NewFromConfig(cfg *config.Config) (*Coordinator, *Client, error) {
	params, err := cfg.NetParams()
	if err != nil {
		return nil, nil, err
	}

	table := checkpoint.NewTable(params)
	var anchor checkpoint.Checkpoint
	if cfg.AnchorHeight != 0 {
		hash, err := chainhash.NewHashFromStr(cfg.AnchorHash)
		if err != nil {
			return nil, nil, fmt.Errorf("node: bad anchorhash: %w", err)
		}
		anchor = checkpoint.Checkpoint{Height: cfg.AnchorHeight, Hash: *hash}
	} else {
		anchor = table.Last()
	}

	store, err := headerfs.NewLevelDBStore(filepath.Join(cfg.DataDir, "headers"))
	if err != nil {
		return nil, nil, fmt.Errorf("node: opening header store: %w", err)
	}

	ch, err := chain.New(params, table, anchor, store)
	if err != nil {
		return nil, nil, err
	}

	quorum := cfheader.New(anchor, cfg.QuorumRequired)

	scripts := filter.NewScriptSet()
	watchScripts, err := filter.DecodeWatchTargets(cfg.Scripts, params)
	if err != nil {
		return nil, nil, err
	}
	scripts.AddAll(watchScripts)

	peerMgr := addrmgr.New()
	for _, hostport := range cfg.Connect {
		ip, port, err := splitHostPort(hostport)
		if err != nil {
			log.Warnf("ignoring invalid --connect address %q: %v", hostport, err)
			continue
		}
		peerMgr.AddNewPeer(ip, port, 0)
	}

	dialCfg := peer.Config{Params: params, LastBlock: ch.TipHeight()}
	peerMap := peer.NewMap(dialCfg, peerInboundCapacity)

	seeder := dnsseed.NewResolver()

	return New(ch, quorum, scripts, peerMgr, peerMap, seeder, params, cfg.Network, cfg.Whitelist, cfg.RequiredPeers)
}

func splitHostPort(hostport string) (net.IP, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, 0, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, fmt.Errorf("not an IP address: %s", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, err
	}
	return ip, uint16(port), nil
}

// Run drives the coordinator until a Shutdown command arrives. It never
// returns otherwise, so callers invoke it from its own goroutine.
func (co *Coordinator) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	co.events.Publish(Dialog{Text: fmt.Sprintf("starting on %s, anchored at %s", co.network, co.chain.Anchor())})

	for {
		co.peerMap.Clean()
		co.advanceState()
		co.rehydratePeers()
		co.dispatchBroadcasts()
		co.popBlockQueue()
		co.checkDisputeTimeout()

		select {
		case in := <-co.peerMap.Inbound():
			co.handleInbound(in)
		case cmd, ok := <-co.commands:
			if !ok || co.handleCommand(cmd) {
				return
			}
		case <-ticker.C:
		}
	}
}

// advanceState recomputes the current phase from scratch every tick
// rather than walking an explicit transition table: each condition is
// checked in strict precedence order, so a reorg that drops the tip
// below a previously-satisfied condition naturally demotes the phase
// again instead of requiring an explicit regression branch.
func (co *Coordinator) advanceState() {
	prev := co.phase
	switch {
	case !co.chain.IsSynced():
		co.phase = Behind
	case co.quorum.Height() < co.chain.TipHeight():
		co.phase = HeadersSynced
	case !co.scanner.IsSynced():
		co.phase = FilterHeadersSynced
	case co.scanner.QueueLen() > 0:
		co.phase = FiltersSynced
	default:
		co.phase = TransactionsSynced
	}

	if co.phase == prev {
		return
	}
	log.Infof("phase %s -> %s", prev, co.phase)
	if co.phase == TransactionsSynced {
		co.events.Publish(Synced{Height: co.chain.TipHeight(), Hash: co.chain.TipHash()})
	}
}

// nextRequiredPeers returns how many live connections the coordinator
// insists on right now: just one while still bootstrapping headers,
// the configured steady-state count afterward.
func (co *Coordinator) nextRequiredPeers() int {
	if co.phase == Behind {
		return 1
	}
	return co.requiredPeers
}

func (co *Coordinator) rehydratePeers() {
	for co.peerMap.Live() < co.nextRequiredPeers() {
		ip, port, err := co.nextPeerAddr()
		if err != nil {
			co.events.Publish(Warning{Text: fmt.Sprintf("no peer available: %v", err)})
			return
		}
		co.peerMap.Dispatch(ip, port)
	}
}

// nextPeerAddr picks the next address to dial: a whitelisted host not
// already connected, else the peer store's weighted-random pick, else a
// DNS bootstrap followed by a retried pick — mirroring node.rs's
// next_peer's whitelist -> peer_man.next_peer -> DNS fallback order.
func (co *Coordinator) nextPeerAddr() (net.IP, uint16, error) {
	connected := co.peerMap.Addrs()
	for _, hostport := range co.whitelist {
		if containsAddr(connected, hostport) {
			continue
		}
		if ip, port, err := splitHostPort(hostport); err == nil {
			return ip, port, nil
		}
	}

	ip, port, err := co.peerMgr.NextPeer()
	if err == nil {
		return ip, port, nil
	}

	added, bootErr := co.peerMgr.Bootstrap(co.seeder, co.network, defaultP2PPort(co.params))
	if bootErr != nil {
		return nil, 0, fmt.Errorf("no whitelist or stored peers and bootstrap failed: %w", bootErr)
	}
	if added == 0 {
		return nil, 0, fmt.Errorf("dns bootstrap returned no usable addresses")
	}
	return co.peerMgr.NextPeer()
}

func containsAddr(addrs []string, target string) bool {
	for _, a := range addrs {
		if a == target {
			return true
		}
	}
	return false
}

func defaultP2PPort(params *chaincfg.Params) uint16 {
	port, err := strconv.Atoi(params.DefaultPort)
	if err != nil {
		return 8333
	}
	return uint16(port)
}

// dispatchBroadcasts drains every queued transaction broadcast once at
// least one peer is connected to receive it.
func (co *Coordinator) dispatchBroadcasts() {
	if co.peerMap.Live() == 0 {
		return
	}
	for {
		job, ok := co.broadcaster.next()
		if !ok {
			return
		}
		switch job.policy {
		case BroadcastAllPeers:
			co.peerMap.Broadcast(peer.BroadcastTx{Tx: job.tx})
		default:
			co.peerMap.SendRandom(peer.BroadcastTx{Tx: job.tx})
		}
	}
}

// popBlockQueue requests every block the scanner has queued as a filter
// match, one getdata per queued hash.
func (co *Coordinator) popBlockQueue() {
	for {
		hash, _, ok := co.scanner.NextBlock()
		if !ok {
			return
		}
		co.peerMap.SendRandom(peer.GetBlock{BlockHash: hash})
	}
}

func (co *Coordinator) checkDisputeTimeout() {
	if co.pendingDispute != nil && time.Now().After(co.pendingDispute.deadline) {
		log.Warnf("filter header dispute at height %d timed out awaiting block, restarting round", co.pendingDispute.height)
		co.escalateDispute()
	}
}

// handleCommand applies a ClientMessage, returning true if the
// coordinator should stop running.
func (co *Coordinator) handleCommand(cmd ClientMessage) bool {
	switch m := cmd.(type) {
	case Shutdown:
		return true
	case Broadcast:
		co.broadcaster.add(m.Tx, m.Policy)
	case AddScripts:
		co.addScripts(m.Scripts)
	case Rescan:
		co.rescan()
	}
	return false
}

func (co *Coordinator) addScripts(scripts [][]byte) {
	co.scripts.AddAll(scripts)
}

// rescan resets the scanner's cursor back to the chain's anchor so
// every committed filter is re-verified and re-matched against the
// current (possibly just-expanded) watched script set.
func (co *Coordinator) rescan() {
	anchor := co.chain.Anchor()
	co.scanner = filter.NewScanner(co.quorum, co.scripts, anchor.Height+1)
	co.scanner.SetTarget(co.quorum.Height())
	co.events.Publish(Dialog{Text: "rescan requested: replaying filters from anchor"})
	co.requestNextFilters()
}

func (co *Coordinator) handleInbound(in peer.Inbound) {
	switch m := in.Message.(type) {
	case peer.VersionReceived:
		co.handleVersion(in.Nonce, m)
	case peer.AddrReceived:
		co.handleNewAddrs(m)
	case peer.HeadersReceived:
		co.handleHeaders(in.Nonce, m)
	case peer.CFHeadersReceived:
		co.handleCFHeaders(in.Nonce, m)
	case peer.CFilterReceived:
		co.handleFilter(in.Nonce, m)
	case peer.BlockReceived:
		co.handleBlock(in.Nonce, m)
	case peer.InvReceived:
		co.handleInventoryBlocks(in.Nonce, m)
	case peer.Disconnected:
		log.Debugf("peer %d disconnected: %s", in.Nonce, m.Reason)
	}
}

func (co *Coordinator) handleVersion(nonce uint64, m peer.VersionReceived) {
	co.peerMap.SetServices(nonce, uint64(m.Services))
	co.peerMap.SetHeight(nonce, m.Height)
	co.chain.SetBestKnownHeight(m.Height)

	if !co.chain.IsSynced() {
		co.peerMap.SendMessage(nonce, peer.GetHeaders{Locators: co.chain.Locators()})
	}
}

func (co *Coordinator) handleNewAddrs(m peer.AddrReceived) {
	for _, na := range m.Addrs {
		if err := co.peerMgr.AddNewPeer(na.IP, na.Port, na.Services); err != nil {
			log.Debugf("addr: %v", err)
		}
	}
}

// handleHeaders applies a headers batch to the header chain. An empty
// batch means the peer has nothing more to offer: if we don't yet
// believe ourselves synced that peer is useless (or lying about its
// height) and gets dropped; otherwise it's simply the normal end of a
// getheaders round, and we move on to filter headers if those are
// still behind. This branching is unchanged from node.rs's
// handle_headers.
func (co *Coordinator) handleHeaders(nonce uint64, m peer.HeadersReceived) {
	if len(m.Headers) == 0 {
		if !co.chain.IsSynced() {
			co.peerMap.Disconnect(nonce)
			return
		}
		if co.quorum.Height() < co.chain.TipHeight() {
			co.requestNextFilterHeaders()
		}
		return
	}

	outcome, err := co.chain.Sync(m.Headers)
	if err != nil {
		kind, _ := chain.KindOf(err)
		log.Warnf("peer %d headers rejected: %v", nonce, err)
		if kind == chain.CheckpointMismatch {
			co.banPeer(nonce, "checkpoint mismatch")
		}
		co.peerMap.Disconnect(nonce)
		return
	}

	if outcome.Reorg {
		co.events.Publish(BlocksDisconnected{From: outcome.DisconnectedFrom, To: outcome.DisconnectedTo})
	}
	co.scanner.SetTarget(co.quorum.Height())

	if len(m.Headers) == wire.MaxBlockHeadersPerMsg {
		co.peerMap.SendMessage(nonce, peer.GetHeaders{Locators: co.chain.Locators()})
		return
	}

	if !co.chain.IsSynced() {
		return
	}
	co.requestNextFilterHeaders()
}

func (co *Coordinator) requestNextFilterHeaders() {
	if co.quorum.Height() >= co.chain.TipHeight() {
		return
	}
	start := co.quorum.Height() + 1
	stop := start + filterHeaderBatchSize - 1
	if stop > co.chain.TipHeight() {
		stop = co.chain.TipHeight()
	}
	stopHash, ok := co.hashAtHeight(stop)
	if !ok {
		return
	}
	co.quorum.SetLastStopHash(stopHash)
	co.peerMap.Broadcast(peer.GetFilterHeaders{StartHeight: uint32(start), StopHash: stopHash})
}

func (co *Coordinator) requestNextFilters() {
	if co.scanner.IsSynced() {
		return
	}
	start := co.scanner.Cursor()
	stop := start + filterBatchSize - 1
	if stop > co.quorum.Height() {
		stop = co.quorum.Height()
	}
	if stop < start {
		return
	}
	stopHash, ok := co.hashAtHeight(stop)
	if !ok {
		return
	}
	co.peerMap.Broadcast(peer.GetFilters{StartHeight: uint32(start), StopHash: stopHash})
}

func (co *Coordinator) hashAtHeight(height int32) (chainhash.Hash, bool) {
	anchor := co.chain.Anchor()
	if height == anchor.Height {
		return anchor.Hash, true
	}
	hdr, ok := co.chain.HeaderAt(height)
	if !ok {
		return chainhash.Hash{}, false
	}
	return hdr.BlockHash(), true
}

// handleCFHeaders feeds a delivered cfheaders batch into the quorum
// chain, then reacts to the outcome: queue more of the same round,
// advance to the next round (or to requesting filters), or open a
// dispute arbitration.
func (co *Coordinator) handleCFHeaders(nonce uint64, m peer.CFHeadersReceived) {
	msg := m.Msg
	entries := cfheader.BuildEntries(msg.PrevFilterHeader, msg.FilterHashes)

	prevHeight := co.quorum.Height()
	result, height := co.quorum.Append(nonce, entries)

	switch result {
	case cfheader.AddedToQueue:
		// Waiting on the rest of the quorum's batches for this round.
	case cfheader.ReadyForNext:
		co.joinCommittedRange(prevHeight, height)
		co.scanner.SetTarget(co.quorum.Height())
		if height < co.chain.TipHeight() {
			co.requestNextFilterHeaders()
		} else {
			co.requestNextFilters()
		}
	case cfheader.Conflict:
		co.handleCFHeaderConflict(height)
	}
}

func (co *Coordinator) joinCommittedRange(prevHeight, newHeight int32) {
	hashes := make([]chainhash.Hash, 0, newHeight-prevHeight)
	for h := prevHeight + 1; h <= newHeight; h++ {
		if bh, ok := co.hashAtHeight(h); ok {
			hashes = append(hashes, bh)
		}
	}
	co.quorum.Join(hashes)
}

// handleCFHeaderConflict opens (or escalates) a dispute over the
// batches staged at height, per spec.md §4.3's arbitration sub-protocol.
// Arbitration itself only covers the first disputed entry in a batch
// (height == committed height + 1): a conflict deeper into a batch would
// require knowing the provisional filter header chain at an
// as-yet-uncommitted predecessor, which the quorum chain's
// committed-or-staged model doesn't expose, so those escalate directly.
func (co *Coordinator) handleCFHeaderConflict(height int32) {
	if co.pendingDispute != nil {
		co.escalateDispute()
		return
	}
	if height != co.quorum.Height()+1 {
		log.Warnf("filter header conflict at height %d beyond arbitration scope, restarting round", height)
		co.escalateDispute()
		return
	}
	prevHeader, ok := co.quorum.PrevHeader()
	if !ok {
		log.Warnf("filter header conflict at height %d has no committed predecessor, restarting round", height)
		co.escalateDispute()
		return
	}
	blockHash, ok := co.hashAtHeight(height)
	if !ok {
		co.escalateDispute()
		return
	}

	co.pendingDispute = &disputeState{
		height:     height,
		blockHash:  blockHash,
		prevHeader: prevHeader,
		deadline:   time.Now().Add(disputeTimeout),
	}
	co.peerMap.SendRandom(peer.GetBlock{BlockHash: blockHash})
	co.events.Publish(Dialog{Text: fmt.Sprintf("arbitrating filter header dispute at height %d", height)})
}

func (co *Coordinator) escalateDispute() {
	co.quorum.ClearStaging()
	co.pendingDispute = nil
	co.requestNextFilterHeaders()
}

// resolveDispute rebuilds a BIP-158 filter from the disputed block's own
// output scripts and compares the recomputed filter header against
// every staged peer's claim at that height, banning and disconnecting
// whoever disagrees. The rebuild only covers output scripts, not the
// spent-input pubkey scripts a full reconstruction needs (those require
// UTXO data a light client doesn't keep), so it can confirm a lie but
// can't always prove one innocent; an empty or unbuildable filter
// escalates instead of accusing anyone.
func (co *Coordinator) resolveDispute(block *wire.MsgBlock) {
	d := co.pendingDispute

	scripts := filter.BuildOutputScripts(block)
	if len(scripts) == 0 {
		co.escalateDispute()
		return
	}

	key := gcs.DeriveKey(&d.blockHash)
	f, err := gcs.NewFilter(key, scripts)
	if err != nil {
		co.escalateDispute()
		return
	}
	recomputed := gcs.HeaderForFilter(f.Hash(), d.prevHeader)

	for _, peerID := range co.quorum.StagedPeers() {
		entry, ok := co.quorum.StagedEntryAt(peerID, d.height)
		if !ok {
			continue
		}
		if entry.FilterHeader != recomputed {
			log.Debugf("disputed entry from peer %d: %s", peerID, spew.Sdump(entry))
			co.banPeer(peerID, "filter header dispute: recomputed header mismatch")
			co.peerMap.Disconnect(peerID)
		}
	}

	co.quorum.ClearStaging()
	co.pendingDispute = nil
	co.requestNextFilterHeaders()
}

func (co *Coordinator) handleFilter(nonce uint64, m peer.CFilterReceived) {
	msg := m.Msg
	height, ok := co.chain.Contains(msg.BlockHash)
	if !ok {
		// Stale delivery for a block a reorg has since disconnected.
		return
	}

	n, body, err := filter.DecodeRawFilter(msg.Data)
	if err != nil {
		co.banPeer(nonce, "malformed filter encoding")
		co.peerMap.Disconnect(nonce)
		return
	}

	if _, err := co.scanner.HandleFilter(msg.BlockHash, height, n, body); err != nil {
		kind, _ := filter.KindOf(err)
		log.Warnf("peer %d filter rejected: %v", nonce, err)
		if kind == filter.FilterHashMismatch {
			co.banPeer(nonce, "filter hash mismatch")
		}
		co.peerMap.Disconnect(nonce)
		return
	}

	if !co.scanner.IsSynced() {
		co.requestNextFilters()
	}
}

func (co *Coordinator) handleBlock(nonce uint64, m peer.BlockReceived) {
	block := m.Block
	hash := block.BlockHash()

	if co.pendingDispute != nil && hash == co.pendingDispute.blockHash {
		co.resolveDispute(block)
		return
	}

	height, ok := co.chain.Contains(hash)
	if !ok {
		// Reorged out from under us since we requested it: silently
		// discard, per spec.md §4.4.
		return
	}

	for _, match := range filter.ScanBlock(block, height, co.scripts) {
		co.events.Publish(Transaction{Tx: match.Tx, BlockHash: match.BlockHash, Height: match.Height})
	}
}

// handleInventoryBlocks bumps a peer's believed height on an inv
// announcement and, unless the coordinator is already Behind, asks it for
// the new headers right away rather than waiting for the next tick.
// Hashes still in the recently-seen inv cache are skipped, so N peers
// announcing the same new tip cost one getheaders round trip, not N.
// It reacts to new-block inv announcements the way
// original_source/src/node/node.rs's handle_inventory_blocks does: any
// novel announcement bumps the believed network height and forces the
// phase back to Behind so the coordinator re-requests headers, rather
// than only tracking it for bookkeeping.
func (co *Coordinator) handleInventoryBlocks(nonce uint64, m peer.InvReceived) {
	if len(m.BlockHashes) == 0 {
		return
	}
	novel := false
	for _, hash := range m.BlockHashes {
		if co.recentInv.Contains(hash) {
			continue
		}
		co.recentInv.Add(hash)
		co.peerMap.AddOneHeight(nonce)
		novel = true
	}
	if !novel || co.phase == Behind {
		return
	}

	co.chain.SetBestKnownHeight(co.peerMap.BestHeight())
	co.phase = Behind
	co.peerMap.SendMessage(nonce, peer.GetHeaders{Locators: co.chain.Locators()})
}

func (co *Coordinator) banPeer(nonce uint64, reason string) {
	addr, ok := co.peerMap.RemoteAddr(nonce)
	if !ok {
		return
	}
	ip, port, err := splitHostPort(addr)
	if err != nil {
		return
	}
	co.peerMgr.Ban(ip, port, banDuration)
	log.Warnf("banned peer %d (%s): %s", nonce, addr, reason)
}
