package session

import (
	"slices"
	"strings"

	"github.com/billsplit/billsplit/internal/bill"
	"github.com/google/uuid"
)

// MaxRecentNames caps the recent-name memory.
const MaxRecentNames = 20

// Palette is the fixed set of pill colors handed out to people.
var Palette = []string{
	"#ef4444", // red
	"#f97316", // orange
	"#eab308", // yellow
	"#22c55e", // green
	"#14b8a6", // teal
	"#3b82f6", // blue
	"#8b5cf6", // violet
	"#ec4899", // pink
}

// AddPerson appends a new person to the roster. Duplicate names are allowed
// and get distinct ids.
func (s *Session) AddPerson(name string) (bill.Person, error) {
	if err := s.rosterEditable(); err != nil {
		return bill.Person{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return bill.Person{}, ErrEmptyName
	}
	p := bill.Person{
		ID:    uuid.NewString(),
		Name:  name,
		Color: s.nextColor(),
	}
	s.people = append(s.people, p)
	s.remember(name)
	return p, nil
}

// nextColor picks the first palette color nobody on the roster has, falling
// back to cycling by roster size.
func (s *Session) nextColor() string {
	used := make(map[string]bool, len(s.people))
	for _, p := range s.people {
		used[p.Color] = true
	}
	for _, c := range Palette {
		if !used[c] {
			return c
		}
	}
	return Palette[len(s.people)%len(Palette)]
}

func (s *Session) remember(name string) {
	names := []string{name}
	for _, n := range s.recentNames {
		if !strings.EqualFold(n, name) {
			names = append(names, n)
		}
	}
	if len(names) > MaxRecentNames {
		names = names[:MaxRecentNames]
	}
	s.recentNames = names
}

// RemovePerson drops a person from the roster and from every item they were
// assigned to. It reports whether the person existed.
func (s *Session) RemovePerson(id string) (bool, error) {
	if err := s.rosterEditable(); err != nil {
		return false, err
	}
	i := s.personIndex(id)
	if i < 0 {
		return false, nil
	}
	s.people = slices.Delete(s.people, i, i+1)
	if s.receipt != nil {
		for j := range s.receipt.Items {
			item := &s.receipt.Items[j]
			item.AssignedTo = slices.DeleteFunc(item.AssignedTo, func(pid string) bool { return pid == id })
		}
	}
	return true, nil
}

// LoadGroup replaces the roster with copies of the group's people. Ids are
// kept so saved references stay valid; missing ids are generated. Assignments
// to people not in the new roster are dropped.
func (s *Session) LoadGroup(group bill.SavedGroup) error {
	if err := s.rosterEditable(); err != nil {
		return err
	}
	people := make([]bill.Person, 0, len(group.People))
	seen := make(map[string]bool, len(group.People))
	for _, p := range group.People {
		if p.ID == "" || seen[p.ID] {
			p.ID = uuid.NewString()
		}
		seen[p.ID] = true
		people = append(people, p)
	}
	s.people = people
	for i := range s.people {
		if s.people[i].Color == "" {
			s.people[i].Color = Palette[i%len(Palette)]
		}
	}
	for _, p := range s.people {
		s.remember(p.Name)
	}
	if s.receipt == nil {
		return nil
	}
	for j := range s.receipt.Items {
		item := &s.receipt.Items[j]
		item.AssignedTo = slices.DeleteFunc(item.AssignedTo, func(pid string) bool { return !seen[pid] })
	}
	return nil
}

// SnapshotGroup returns a detached copy of the roster as a named group.
func (s *Session) SnapshotGroup(name string) (bill.SavedGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return bill.SavedGroup{}, ErrEmptyName
	}
	return bill.SavedGroup{Name: name, People: s.People()}, nil
}

// RecentSuggestions returns up to n recent names that contain query and are
// not already on the roster. Matching ignores case.
func (s *Session) RecentSuggestions(query string, n int) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	suggestions := []string{}
	for _, name := range s.recentNames {
		if len(suggestions) >= n {
			break
		}
		if !strings.Contains(strings.ToLower(name), query) {
			continue
		}
		if slices.ContainsFunc(s.people, func(p bill.Person) bool { return strings.EqualFold(p.Name, name) }) {
			continue
		}
		suggestions = append(suggestions, name)
	}
	return suggestions
}

func (s *Session) personIndex(id string) int {
	return slices.IndexFunc(s.people, func(p bill.Person) bool { return p.ID == id })
}
