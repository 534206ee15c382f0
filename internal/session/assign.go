package session

import (
	"fmt"
	"slices"

	"github.com/billsplit/billsplit/internal/bill"
)

// ToggleAssignment adds the person to the item if absent, removes them if
// present. Unknown ids leave the receipt unchanged.
func (s *Session) ToggleAssignment(itemID, personID string) error {
	if err := s.assigning(); err != nil {
		return err
	}
	item := s.item(itemID)
	if item == nil {
		return fmt.Errorf("%w: item %s", ErrUnknownReference, itemID)
	}
	if s.personIndex(personID) < 0 {
		return fmt.Errorf("%w: person %s", ErrUnknownReference, personID)
	}
	if i := slices.Index(item.AssignedTo, personID); i >= 0 {
		item.AssignedTo = slices.Delete(item.AssignedTo, i, i+1)
		return nil
	}
	item.AssignedTo = append(item.AssignedTo, personID)
	return nil
}

// AssignAllToAll assigns every item to the whole roster, in roster order.
func (s *Session) AssignAllToAll() error {
	if err := s.assigning(); err != nil {
		return err
	}
	for i := range s.receipt.Items {
		ids := make([]string, len(s.people))
		for j, p := range s.people {
			ids[j] = p.ID
		}
		s.receipt.Items[i].AssignedTo = ids
	}
	return nil
}

// ClearAllAssignments empties every item's assignee list.
func (s *Session) ClearAllAssignments() error {
	if err := s.assigning(); err != nil {
		return err
	}
	for i := range s.receipt.Items {
		s.receipt.Items[i].AssignedTo = []string{}
	}
	return nil
}

// IsFullyAssigned reports whether every item has at least one assignee.
func (s *Session) IsFullyAssigned() bool {
	return s.receipt.IsFullyAssigned()
}

// FirstUnassigned returns the index of the first item with no assignee, or -1.
func (s *Session) FirstUnassigned() int {
	if s.receipt == nil {
		return -1
	}
	return slices.IndexFunc(s.receipt.Items, func(item bill.Item) bool { return len(item.AssignedTo) == 0 })
}

// Progress returns how many items are assigned out of the total.
func (s *Session) Progress() (assigned, total int) {
	if s.receipt == nil {
		return 0, 0
	}
	for _, item := range s.receipt.Items {
		if len(item.AssignedTo) > 0 {
			assigned++
		}
	}
	return assigned, len(s.receipt.Items)
}

func (s *Session) item(id string) *bill.Item {
	if s.receipt == nil {
		return nil
	}
	for i := range s.receipt.Items {
		if s.receipt.Items[i].ID == id {
			return &s.receipt.Items[i]
		}
	}
	return nil
}
