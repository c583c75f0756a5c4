package account

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns every Account, Group and Tag, the selection set and the
// active-account pointer. All methods are safe for concurrent use; every
// mutation is applied to the latest stored record under the write lock.
type Registry struct {
	mu sync.RWMutex

	accounts map[string]*Account
	order    []string
	activeID string
	selected map[string]struct{}

	groups   map[string]Group
	tags     map[string]Tag
	tagOrder []string

	now func() time.Time
}

// State is a consistent copy of the registry contents.
type State struct {
	Accounts []Account
	Groups   []Group
	Tags     []Tag
	ActiveID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		accounts: make(map[string]*Account),
		selected: make(map[string]struct{}),
		groups:   make(map[string]Group),
		tags:     make(map[string]Tag),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns a copy of one account.
func (r *Registry) Get(id string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	if !ok {
		return Account{}, false
	}
	return acc.Clone(), true
}

// FindByEmail looks an account up by email, case-insensitively.
func (r *Registry) FindByEmail(email string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if acc := r.findByEmailLocked(email); acc != nil {
		return acc.Clone(), true
	}
	return Account{}, false
}

func (r *Registry) findByEmailLocked(email string) *Account {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	for _, id := range r.order {
		if normalizeEmail(r.accounts[id].Email) == email {
			return r.accounts[id]
		}
	}
	return nil
}

// List returns copies of all accounts in insertion order.
func (r *Registry) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id].Clone())
	}
	return out
}

// Active returns the active account, if any.
func (r *Registry) Active() (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return Account{}, false
	}
	acc, ok := r.accounts[r.activeID]
	if !ok {
		return Account{}, false
	}
	return acc.Clone(), true
}

// ActiveID returns the id of the active account or "".
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Update applies fn to the latest stored copy of an account and stores the
// result as one indivisible replace. fn cannot change the id or active flag.
func (r *Registry) Update(id string, fn func(*Account)) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	fn(&next)
	next.ID = cur.ID
	next.IsActive = cur.IsActive
	r.accounts[id] = &next
	return next.Clone(), nil
}

func (r *Registry) insertLocked(acc Account) error {
	if _, exists := r.accounts[acc.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDuplicate, acc.ID)
	}
	if r.findByEmailLocked(acc.Email) != nil {
		return fmt.Errorf("%w: email %s", ErrDuplicate, acc.Email)
	}
	acc.IsActive = false
	stored := acc.Clone()
	r.accounts[acc.ID] = &stored
	r.order = append(r.order, acc.ID)
	return nil
}

// Remove deletes an account, clearing its selection and the active pointer
// when it was active.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) error {
	if _, ok := r.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.accounts, id)
	delete(r.selected, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	if r.activeID == id {
		r.activeID = ""
	}
	return nil
}

// RemoveMany deletes several accounts; unknown ids count as failures.
func (r *Registry) RemoveMany(ids []string) BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res BatchResult
	for _, id := range ids {
		if err := r.removeLocked(id); err != nil {
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res
}

// Activate makes id the only active account and bumps its LastUsedAt. An
// empty id clears the active account. prev is the former holder, if any.
func (r *Registry) Activate(id string) (prev *Account, next *Account, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *Account
	if id != "" {
		var ok bool
		if target, ok = r.accounts[id]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	if old, ok := r.accounts[r.activeID]; ok && r.activeID != id {
		cp := old.Clone()
		cp.IsActive = false
		r.accounts[old.ID] = &cp
		prevCopy := cp.Clone()
		prev = &prevCopy
	}
	r.activeID = id
	if target == nil {
		return prev, nil, nil
	}
	cp := target.Clone()
	cp.IsActive = true
	cp.LastUsedAt = r.now()
	r.accounts[id] = &cp
	nextCopy := cp.Clone()
	return prev, &nextCopy, nil
}

// Restore replaces the registry contents. Every IsActive flag is cleared and
// at most one account, activeID, is marked active again. Accounts sharing an
// id or email with an earlier one are dropped.
func (r *Registry) Restore(s State) (dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = make(map[string]*Account, len(s.Accounts))
	r.order = r.order[:0]
	r.selected = make(map[string]struct{})
	r.activeID = ""
	for _, acc := range s.Accounts {
		if acc.ID == "" {
			acc.ID = uuid.NewString()
		}
		if err := r.insertLocked(acc); err != nil {
			dropped++
		}
	}

	r.groups = make(map[string]Group, len(s.Groups))
	for _, g := range s.Groups {
		r.groups[g.ID] = g
	}
	r.tags = make(map[string]Tag, len(s.Tags))
	r.tagOrder = r.tagOrder[:0]
	for _, t := range s.Tags {
		if _, dup := r.tags[t.ID]; dup {
			continue
		}
		r.tags[t.ID] = t
		r.tagOrder = append(r.tagOrder, t.ID)
	}

	if acc, ok := r.accounts[s.ActiveID]; ok {
		acc.IsActive = true
		r.activeID = s.ActiveID
	}
	return dropped
}

// Export returns a consistent copy of everything the registry holds.
func (r *Registry) Export() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := State{ActiveID: r.activeID}
	for _, id := range r.order {
		s.Accounts = append(s.Accounts, r.accounts[id].Clone())
	}
	s.Groups = r.groupsLocked()
	for _, id := range r.tagOrder {
		s.Tags = append(s.Tags, r.tags[id])
	}
	return s
}

// ===== Groups =====

// CreateGroup adds a group at the end of the ordering.
func (r *Registry) CreateGroup(name, color string) Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := 0
	for _, g := range r.groups {
		order = max(order, g.Order+1)
	}
	g := Group{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Color:     color,
		Order:     order,
		CreatedAt: r.now(),
	}
	r.groups[g.ID] = g
	return g
}

// UpdateGroup renames, recolors or reorders an existing group.
func (r *Registry) UpdateGroup(g Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.groups[g.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, g.ID)
	}
	g.CreatedAt = cur.CreatedAt
	r.groups[g.ID] = g
	return nil
}

// DeleteGroup removes a group and clears the reference on its members. The
// member accounts themselves are kept.
func (r *Registry) DeleteGroup(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[id]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	delete(r.groups, id)
	for accID, acc := range r.accounts {
		if acc.GroupID == id {
			cp := acc.Clone()
			cp.GroupID = ""
			r.accounts[accID] = &cp
		}
	}
	return nil
}

// Groups lists groups by Order, then creation time.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groupsLocked()
}

func (r *Registry) groupsLocked() []Group {
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MoveToGroup assigns accounts to groupID; "" removes them from any group.
func (r *Registry) MoveToGroup(ids []string, groupID string) (BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if groupID != "" {
		if _, ok := r.groups[groupID]; !ok {
			return BatchResult{Failed: len(ids)}, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
	}
	return r.eachLocked(ids, func(a *Account) { a.GroupID = groupID }), nil
}

// ===== Tags =====

// CreateTag adds a tag.
func (r *Registry) CreateTag(name, color string) Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := Tag{ID: uuid.NewString(), Name: strings.TrimSpace(name), Color: color}
	r.tags[t.ID] = t
	r.tagOrder = append(r.tagOrder, t.ID)
	return t
}

// UpdateTag renames or recolors an existing tag.
func (r *Registry) UpdateTag(t Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[t.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrTagNotFound, t.ID)
	}
	r.tags[t.ID] = t
	return nil
}

// DeleteTag removes a tag and strips it from every account.
func (r *Registry) DeleteTag(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTagNotFound, id)
	}
	delete(r.tags, id)
	r.tagOrder = slices.DeleteFunc(r.tagOrder, func(s string) bool { return s == id })
	for accID, acc := range r.accounts {
		if acc.hasTag(id) {
			cp := acc.Clone()
			cp.TagIDs = slices.DeleteFunc(cp.TagIDs, func(s string) bool { return s == id })
			r.accounts[accID] = &cp
		}
	}
	return nil
}

// Tags lists tags in creation order.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tag, 0, len(r.tagOrder))
	for _, id := range r.tagOrder {
		out = append(out, r.tags[id])
	}
	return out
}

// AddTags attaches tags to accounts. Unknown tag ids are rejected up front.
func (r *Registry) AddTags(ids []string, tagIDs []string) (BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tagIDs {
		if _, ok := r.tags[t]; !ok {
			return BatchResult{Failed: len(ids)}, fmt.Errorf("%w: %s", ErrTagNotFound, t)
		}
	}
	return r.eachLocked(ids, func(a *Account) {
		for _, t := range tagIDs {
			if !a.hasTag(t) {
				a.TagIDs = append(a.TagIDs, t)
			}
		}
	}), nil
}

// RemoveTags detaches tags from accounts.
func (r *Registry) RemoveTags(ids []string, tagIDs []string) BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eachLocked(ids, func(a *Account) {
		a.TagIDs = slices.DeleteFunc(a.TagIDs, func(s string) bool { return slices.Contains(tagIDs, s) })
	})
}

func (r *Registry) eachLocked(ids []string, fn func(*Account)) BatchResult {
	var res BatchResult
	for _, id := range ids {
		acc, ok := r.accounts[id]
		if !ok {
			res.Failed++
			continue
		}
		cp := acc.Clone()
		fn(&cp)
		r.accounts[id] = &cp
		res.Succeeded++
	}
	return res
}

// ===== Selection =====

// Select adds existing accounts to the selection and returns how many were added.
func (r *Registry) Select(ids ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := r.accounts[id]; ok {
			r.selected[id] = struct{}{}
			n++
		}
	}
	return n
}

// Deselect removes ids from the selection.
func (r *Registry) Deselect(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.selected, id)
	}
}

// ClearSelection empties the selection.
func (r *Registry) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = make(map[string]struct{})
}

// Selected returns selected ids in registry order.
func (r *Registry) Selected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.selected))
	for _, id := range r.order {
		if _, ok := r.selected[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
