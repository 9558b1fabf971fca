package registry

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"jobledger/core/events"
	"jobledger/core/types"
	"jobledger/native/common"
)

const moduleName = "registry"

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	ErrUnknownEntry  = fmt.Errorf("registry: entry %w", common.ErrNotFound)
	ErrEntryExists   = fmt.Errorf("registry: %w: address already registered", common.ErrDuplicate)
	ErrInvalidEntry  = fmt.Errorf("registry: %w: invalid entry", common.ErrValidation)
	ErrStatusMissing = fmt.Errorf("registry: %w: status required", common.ErrValidation)
)

// Entry is the primary record stored at a registry index. Parent holds the
// job address of a bid entry and is zero for jobs.
type Entry struct {
	Index   uint64
	Address [20]byte
	Owner   [20]byte
	Parent  [20]byte
	Status  string
}

// Registry maintains the sequential job and bid indices together with their
// secondary lookups. Every write touches the primary map and all secondary
// lists through a single entry point so the indices never drift apart.
type Registry struct {
	st      registryState
	emitter events.Emitter
	pauses  common.PauseView
	admin   *common.Capability
	jobs    table
	bids    table
}

// NewRegistry creates a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{
		st:      st,
		emitter: events.NoopEmitter{},
		jobs:    table{name: "job", secondary: []string{"client", "status"}},
		bids:    table{name: "bid", secondary: []string{"worker", "job", "status"}},
	}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) SetPauses(p common.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetAdminCapability configures the token every mutation demands.
func (r *Registry) SetAdminCapability(c *common.Capability) { r.admin = c }

func (r *Registry) authorize(capability *common.Capability) error {
	if r == nil || r.st == nil {
		return fmt.Errorf("registry: state not configured")
	}
	if err := common.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	return common.Authorize(r.admin, capability, common.CapabilityRegistryAdmin)
}

func (r *Registry) emit(evt *types.Event) {
	if r.emitter != nil && evt != nil {
		r.emitter.Emit(evt)
	}
}

// RegisterJob appends a job at the next job index.
func (r *Registry) RegisterJob(capability *common.Capability, address, client [20]byte, status string) (uint64, error) {
	if err := r.authorize(capability); err != nil {
		return 0, err
	}
	entry := &Entry{Address: address, Owner: client, Status: normalizeStatus(status)}
	if client == ([20]byte{}) {
		return 0, fmt.Errorf("%w: client required", ErrInvalidEntry)
	}
	if err := r.jobs.register(r.st, entry, map[string][]byte{
		"client": client[:],
		"status": []byte(entry.Status),
	}); err != nil {
		return 0, err
	}
	r.emit(NewJobRegisteredEvent(entry))
	return entry.Index, nil
}

// RegisterBid appends a bid at the next bid index.
func (r *Registry) RegisterBid(capability *common.Capability, address, worker, job [20]byte, status string) (uint64, error) {
	if err := r.authorize(capability); err != nil {
		return 0, err
	}
	entry := &Entry{Address: address, Owner: worker, Parent: job, Status: normalizeStatus(status)}
	if worker == ([20]byte{}) || job == ([20]byte{}) {
		return 0, fmt.Errorf("%w: worker and job required", ErrInvalidEntry)
	}
	if err := r.bids.register(r.st, entry, map[string][]byte{
		"worker": worker[:],
		"job":    job[:],
		"status": []byte(entry.Status),
	}); err != nil {
		return 0, err
	}
	r.emit(NewBidRegisteredEvent(entry))
	return entry.Index, nil
}

// UpdateJobStatus moves a registered job between status lists.
func (r *Registry) UpdateJobStatus(capability *common.Capability, address [20]byte, status string) error {
	if err := r.authorize(capability); err != nil {
		return err
	}
	entry, from, err := r.jobs.setStatus(r.st, address, normalizeStatus(status))
	if err != nil || entry == nil {
		return err
	}
	r.emit(NewStatusUpdatedEvent(EventTypeJobStatusUpdated, entry, from))
	return nil
}

// UpdateBidStatus moves a registered bid between status lists.
func (r *Registry) UpdateBidStatus(capability *common.Capability, address [20]byte, status string) error {
	if err := r.authorize(capability); err != nil {
		return err
	}
	entry, from, err := r.bids.setStatus(r.st, address, normalizeStatus(status))
	if err != nil || entry == nil {
		return err
	}
	r.emit(NewStatusUpdatedEvent(EventTypeBidStatusUpdated, entry, from))
	return nil
}

// JobByIndex returns the address registered at job index i.
func (r *Registry) JobByIndex(i uint64) ([20]byte, bool) {
	return r.jobs.addressAt(r.st, i)
}

// BidByIndex returns the address registered at bid index i.
func (r *Registry) BidByIndex(i uint64) ([20]byte, bool) {
	return r.bids.addressAt(r.st, i)
}

// JobEntry returns the full primary record of the job registered at address.
func (r *Registry) JobEntry(address [20]byte) (*Entry, error) {
	return r.jobs.entryFor(r.st, address)
}

// BidEntry returns the full primary record of the bid registered at address.
func (r *Registry) BidEntry(address [20]byte) (*Entry, error) {
	return r.bids.entryFor(r.st, address)
}

func (r *Registry) JobsByClient(client [20]byte) ([]uint64, error) {
	return r.jobs.list(r.st, "client", client[:])
}

func (r *Registry) JobsByStatus(status string) ([]uint64, error) {
	return r.jobs.list(r.st, "status", []byte(normalizeStatus(status)))
}

func (r *Registry) BidsByWorker(worker [20]byte) ([]uint64, error) {
	return r.bids.list(r.st, "worker", worker[:])
}

func (r *Registry) BidsByJob(job [20]byte) ([]uint64, error) {
	return r.bids.list(r.st, "job", job[:])
}

func (r *Registry) BidsByStatus(status string) ([]uint64, error) {
	return r.bids.list(r.st, "status", []byte(normalizeStatus(status)))
}

// NextJobIndex returns the index the next job registration will receive,
// which equals the number of jobs registered so far.
func (r *Registry) NextJobIndex() (uint64, error) {
	return r.jobs.next(r.st)
}

// NextBidIndex returns the index the next bid registration will receive.
func (r *Registry) NextBidIndex() (uint64, error) {
	return r.bids.next(r.st)
}

func normalizeStatus(s string) string {
	return norm.NFKC.String(strings.ToLower(strings.TrimSpace(s)))
}

// table is one primary map with its secondary lists, all stored under
// registry/<name>/ keys.
type table struct {
	name      string
	secondary []string
}

func (t table) nextKey() []byte { return []byte(fmt.Sprintf("registry/%s/next", t.name)) }

func (t table) indexKey(i uint64) []byte {
	return []byte(fmt.Sprintf("registry/%s/index/%d", t.name, i))
}

func (t table) addressKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("registry/%s/address/%x", t.name, addr))
}

func (t table) listKey(field string, value []byte) []byte {
	return []byte(fmt.Sprintf("registry/%s/%s/%x", t.name, field, value))
}

func encodeIndex(i uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	return buf[:]
}

func (t table) next(st registryState) (uint64, error) {
	var n uint64
	if _, err := st.KVGet(t.nextKey(), &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t table) register(st registryState, entry *Entry, fields map[string][]byte) error {
	if entry.Address == ([20]byte{}) {
		return fmt.Errorf("%w: address required", ErrInvalidEntry)
	}
	if entry.Status == "" {
		return ErrStatusMissing
	}
	exists, err := st.KVGet(t.addressKey(entry.Address), nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %x", ErrEntryExists, t.name, entry.Address)
	}
	index, err := t.next(st)
	if err != nil {
		return err
	}
	entry.Index = index
	if err := st.KVPut(t.indexKey(index), entry); err != nil {
		return err
	}
	if err := st.KVPut(t.addressKey(entry.Address), index); err != nil {
		return err
	}
	for _, field := range t.secondary {
		if err := st.KVAppend(t.listKey(field, fields[field]), encodeIndex(index)); err != nil {
			return err
		}
	}
	return st.KVPut(t.nextKey(), index+1)
}

func (t table) load(st registryState, i uint64) (*Entry, error) {
	entry := new(Entry)
	ok, err := st.KVGet(t.indexKey(i), entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownEntry
	}
	return entry, nil
}

func (t table) entryFor(st registryState, addr [20]byte) (*Entry, error) {
	var index uint64
	ok, err := st.KVGet(t.addressKey(addr), &index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownEntry
	}
	return t.load(st, index)
}

func (t table) addressAt(st registryState, i uint64) ([20]byte, bool) {
	entry, err := t.load(st, i)
	if err != nil {
		return [20]byte{}, false
	}
	return entry.Address, true
}

// setStatus rewrites the entry's status and moves its index from the old
// status list to the new one. A no-op update returns a nil entry.
func (t table) setStatus(st registryState, addr [20]byte, status string) (*Entry, string, error) {
	if status == "" {
		return nil, "", ErrStatusMissing
	}
	entry, err := t.entryFor(st, addr)
	if err != nil {
		return nil, "", err
	}
	from := entry.Status
	if from == status {
		return nil, from, nil
	}
	if err := st.KVRemove(t.listKey("status", []byte(from)), encodeIndex(entry.Index)); err != nil {
		return nil, "", err
	}
	if err := st.KVAppend(t.listKey("status", []byte(status)), encodeIndex(entry.Index)); err != nil {
		return nil, "", err
	}
	entry.Status = status
	if err := st.KVPut(t.indexKey(entry.Index), entry); err != nil {
		return nil, "", err
	}
	return entry, from, nil
}

func (t table) list(st registryState, field string, value []byte) ([]uint64, error) {
	var raw [][]byte
	if err := st.KVGetList(t.listKey(field, value), &raw); err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(raw))
	for _, b := range raw {
		if len(b) != 8 {
			return nil, fmt.Errorf("registry: corrupt %s/%s list entry", t.name, field)
		}
		out = append(out, binary.BigEndian.Uint64(b))
	}
	return out, nil
}
