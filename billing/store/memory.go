// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/table-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.TxStore in memory. WithTx holds the write lock
// for the whole callback and restores a snapshot if the callback fails.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	customers   map[billing.CustomerID]billing.Customer
	frames      map[billing.FrameID]billing.Frame
	charges     []billing.LedgerCharge
	payments    []billing.LedgerPayment
	allocations []billing.PaymentAllocation
	ids         map[string]bool // ledger row ids, all kinds
	seq         int64
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func newMemoryData() *memoryData {
	return &memoryData{
		customers: make(map[billing.CustomerID]billing.Customer),
		frames:    make(map[billing.FrameID]billing.Frame),
		ids:       make(map[string]bool),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&memoryView{data: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		customers:   make(map[billing.CustomerID]billing.Customer, len(d.customers)),
		frames:      make(map[billing.FrameID]billing.Frame, len(d.frames)),
		charges:     append([]billing.LedgerCharge(nil), d.charges...),
		payments:    append([]billing.LedgerPayment(nil), d.payments...),
		allocations: append([]billing.PaymentAllocation(nil), d.allocations...),
		ids:         make(map[string]bool, len(d.ids)),
		seq:         d.seq,
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.frames {
		c.frames[k] = v
	}
	for k, v := range d.ids {
		c.ids[k] = v
	}
	return c
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemoryData()
	return nil
}

// read runs fn under the read lock; write under the write lock.
func (m *Memory) read(fn func(*memoryData) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.data)
}

func (m *Memory) write(fn func(*memoryData) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

func (m *Memory) CreateCustomer(_ context.Context, c billing.Customer) error {
	return m.write(func(d *memoryData) error { return d.createCustomer(c) })
}

func (m *Memory) GetCustomer(_ context.Context, id billing.CustomerID) (c *billing.Customer, err error) {
	err = m.read(func(d *memoryData) error { c, err = d.getCustomer(id); return err })
	return c, err
}

func (m *Memory) ListCustomers(_ context.Context) (out []billing.Customer, err error) {
	err = m.read(func(d *memoryData) error { out = d.listCustomers(); return nil })
	return out, err
}

func (m *Memory) CreateFrame(_ context.Context, f billing.Frame) error {
	return m.write(func(d *memoryData) error { return d.createFrame(f) })
}

func (m *Memory) GetFrame(_ context.Context, id billing.FrameID) (f *billing.Frame, err error) {
	err = m.read(func(d *memoryData) error { f, err = d.getFrame(id); return err })
	return f, err
}

func (m *Memory) ListFramesBySession(_ context.Context, id billing.SessionID) (out []billing.Frame, err error) {
	err = m.read(func(d *memoryData) error { out = d.framesBySession(id); return nil })
	return out, err
}

func (m *Memory) SaveFrameBilling(_ context.Context, f billing.Frame) error {
	return m.write(func(d *memoryData) error { return d.saveFrameBilling(f) })
}

func (m *Memory) UpdateFramePayStatus(_ context.Context, id billing.FrameID, s billing.PayStatus) error {
	return m.write(func(d *memoryData) error { return d.updateFramePayStatus(id, s) })
}

func (m *Memory) AppendCharges(_ context.Context, cs []billing.LedgerCharge) error {
	return m.write(func(d *memoryData) error { return d.appendCharges(cs) })
}

func (m *Memory) AppendPayment(_ context.Context, p billing.LedgerPayment) error {
	return m.write(func(d *memoryData) error { return d.appendPayment(p) })
}

func (m *Memory) AppendAllocations(_ context.Context, as []billing.PaymentAllocation) error {
	return m.write(func(d *memoryData) error { return d.appendAllocations(as) })
}

func (m *Memory) ChargesByCustomer(_ context.Context, id billing.CustomerID) (out []billing.LedgerCharge, err error) {
	err = m.read(func(d *memoryData) error { out = d.chargesByCustomer(id); return nil })
	return out, err
}

func (m *Memory) ChargesByFrame(_ context.Context, id billing.FrameID) (out []billing.LedgerCharge, err error) {
	err = m.read(func(d *memoryData) error { out = d.chargesByFrame(id); return nil })
	return out, err
}

func (m *Memory) PaymentsByCustomer(_ context.Context, id billing.CustomerID) (out []billing.LedgerPayment, err error) {
	err = m.read(func(d *memoryData) error { out = d.paymentsByCustomer(id); return nil })
	return out, err
}

func (m *Memory) AllocationsByCustomer(_ context.Context, id billing.CustomerID) (out []billing.PaymentAllocation, err error) {
	err = m.read(func(d *memoryData) error { out = d.allocationsByCustomer(id); return nil })
	return out, err
}

func (m *Memory) AllocationsByCharges(_ context.Context, ids []billing.ChargeID) (out []billing.PaymentAllocation, err error) {
	err = m.read(func(d *memoryData) error { out = d.allocationsByCharges(ids); return nil })
	return out, err
}

// =============================================================================
// LOCKED OPERATIONS - caller holds Memory.mu
// =============================================================================

func (d *memoryData) createCustomer(c billing.Customer) error {
	if _, ok := d.customers[c.ID]; ok {
		return fmt.Errorf("customer %s: %w", c.ID, billing.ErrDuplicateCustomer)
	}
	d.customers[c.ID] = c
	return nil
}

func (d *memoryData) getCustomer(id billing.CustomerID) (*billing.Customer, error) {
	c, ok := d.customers[id]
	if !ok {
		return nil, &billing.CustomerNotFoundError{CustomerID: id}
	}
	return &c, nil
}

func (d *memoryData) listCustomers() []billing.Customer {
	out := make([]billing.Customer, 0, len(d.customers))
	for _, c := range d.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *memoryData) createFrame(f billing.Frame) error {
	if _, ok := d.frames[f.ID]; ok {
		return fmt.Errorf("frame %s already exists", f.ID)
	}
	f.Participants = append([]billing.FrameParticipant(nil), f.Participants...)
	d.frames[f.ID] = f
	return nil
}

func (d *memoryData) getFrame(id billing.FrameID) (*billing.Frame, error) {
	f, ok := d.frames[id]
	if !ok {
		return nil, &billing.FrameNotFoundError{FrameID: id}
	}
	f.Participants = append([]billing.FrameParticipant(nil), f.Participants...)
	return &f, nil
}

func (d *memoryData) framesBySession(id billing.SessionID) []billing.Frame {
	var out []billing.Frame
	for _, f := range d.frames {
		if f.SessionID == id {
			f.Participants = append([]billing.FrameParticipant(nil), f.Participants...)
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *memoryData) saveFrameBilling(f billing.Frame) error {
	cur, ok := d.frames[f.ID]
	if !ok {
		return &billing.FrameNotFoundError{FrameID: f.ID}
	}
	if cur.Billed() {
		return &billing.AlreadyBilledError{FrameID: f.ID, EndedAt: *cur.EndedAt}
	}
	f.Participants = cur.Participants
	d.frames[f.ID] = f
	return nil
}

func (d *memoryData) updateFramePayStatus(id billing.FrameID, s billing.PayStatus) error {
	f, ok := d.frames[id]
	if !ok {
		return &billing.FrameNotFoundError{FrameID: id}
	}
	f.PayStatus = s
	d.frames[id] = f
	return nil
}

func (d *memoryData) claim(id string) error {
	if d.ids[id] {
		return fmt.Errorf("duplicate ledger row id %s", id)
	}
	d.ids[id] = true
	return nil
}

func (d *memoryData) appendCharges(cs []billing.LedgerCharge) error {
	for _, c := range cs {
		if _, ok := d.customers[c.CustomerID]; !ok {
			return &billing.CustomerNotFoundError{CustomerID: c.CustomerID}
		}
		if err := d.claim(string(c.ID)); err != nil {
			return err
		}
		d.seq++
		c.Seq = d.seq
		d.charges = append(d.charges, c)
	}
	return nil
}

func (d *memoryData) appendPayment(p billing.LedgerPayment) error {
	if _, ok := d.customers[p.CustomerID]; !ok {
		return &billing.CustomerNotFoundError{CustomerID: p.CustomerID}
	}
	if err := d.claim(string(p.ID)); err != nil {
		return err
	}
	d.payments = append(d.payments, p)
	return nil
}

func (d *memoryData) appendAllocations(as []billing.PaymentAllocation) error {
	for _, a := range as {
		if err := d.claim(string(a.ID)); err != nil {
			return err
		}
		d.allocations = append(d.allocations, a)
	}
	return nil
}

func (d *memoryData) chargesByCustomer(id billing.CustomerID) []billing.LedgerCharge {
	var out []billing.LedgerCharge
	for _, c := range d.charges {
		if c.CustomerID == id {
			out = append(out, c)
		}
	}
	billing.SortChargesFIFO(out)
	return out
}

func (d *memoryData) chargesByFrame(id billing.FrameID) []billing.LedgerCharge {
	var out []billing.LedgerCharge
	for _, c := range d.charges {
		if c.FrameID != nil && *c.FrameID == id {
			out = append(out, c)
		}
	}
	billing.SortChargesFIFO(out)
	return out
}

func (d *memoryData) paymentsByCustomer(id billing.CustomerID) []billing.LedgerPayment {
	var out []billing.LedgerPayment
	for _, p := range d.payments {
		if p.CustomerID == id {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

func (d *memoryData) allocationsByCustomer(id billing.CustomerID) []billing.PaymentAllocation {
	owned := make(map[billing.ChargeID]bool)
	for _, c := range d.charges {
		if c.CustomerID == id {
			owned[c.ID] = true
		}
	}
	var out []billing.PaymentAllocation
	for _, a := range d.allocations {
		if owned[a.ChargeID] {
			out = append(out, a)
		}
	}
	return out
}

func (d *memoryData) allocationsByCharges(ids []billing.ChargeID) []billing.PaymentAllocation {
	want := make(map[billing.ChargeID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []billing.PaymentAllocation
	for _, a := range d.allocations {
		if want[a.ChargeID] {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW - parent lock already held by WithTx
// =============================================================================

type memoryView struct {
	data *memoryData
}

func (v *memoryView) CreateCustomer(_ context.Context, c billing.Customer) error {
	return v.data.createCustomer(c)
}

func (v *memoryView) GetCustomer(_ context.Context, id billing.CustomerID) (*billing.Customer, error) {
	return v.data.getCustomer(id)
}

func (v *memoryView) ListCustomers(_ context.Context) ([]billing.Customer, error) {
	return v.data.listCustomers(), nil
}

func (v *memoryView) CreateFrame(_ context.Context, f billing.Frame) error {
	return v.data.createFrame(f)
}

func (v *memoryView) GetFrame(_ context.Context, id billing.FrameID) (*billing.Frame, error) {
	return v.data.getFrame(id)
}

func (v *memoryView) ListFramesBySession(_ context.Context, id billing.SessionID) ([]billing.Frame, error) {
	return v.data.framesBySession(id), nil
}

func (v *memoryView) SaveFrameBilling(_ context.Context, f billing.Frame) error {
	return v.data.saveFrameBilling(f)
}

func (v *memoryView) UpdateFramePayStatus(_ context.Context, id billing.FrameID, s billing.PayStatus) error {
	return v.data.updateFramePayStatus(id, s)
}

func (v *memoryView) AppendCharges(_ context.Context, cs []billing.LedgerCharge) error {
	return v.data.appendCharges(cs)
}

func (v *memoryView) AppendPayment(_ context.Context, p billing.LedgerPayment) error {
	return v.data.appendPayment(p)
}

func (v *memoryView) AppendAllocations(_ context.Context, as []billing.PaymentAllocation) error {
	return v.data.appendAllocations(as)
}

func (v *memoryView) ChargesByCustomer(_ context.Context, id billing.CustomerID) ([]billing.LedgerCharge, error) {
	return v.data.chargesByCustomer(id), nil
}

func (v *memoryView) ChargesByFrame(_ context.Context, id billing.FrameID) ([]billing.LedgerCharge, error) {
	return v.data.chargesByFrame(id), nil
}

func (v *memoryView) PaymentsByCustomer(_ context.Context, id billing.CustomerID) ([]billing.LedgerPayment, error) {
	return v.data.paymentsByCustomer(id), nil
}

func (v *memoryView) AllocationsByCustomer(_ context.Context, id billing.CustomerID) ([]billing.PaymentAllocation, error) {
	return v.data.allocationsByCustomer(id), nil
}

func (v *memoryView) AllocationsByCharges(_ context.Context, ids []billing.ChargeID) ([]billing.PaymentAllocation, error) {
	return v.data.allocationsByCharges(ids), nil
}
