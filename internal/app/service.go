// Package app serves the bill-splitting session over HTTP and connects it to
// scanning and persistence.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/billsplit/billsplit/internal/bill"
	"github.com/billsplit/billsplit/internal/scanning"
	"github.com/billsplit/billsplit/internal/session"
	"github.com/billsplit/billsplit/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SuggestionLimit caps RecentSuggestions results.
const SuggestionLimit = 5

var (
	ErrInvalidMode = errors.New("split mode must be equal or manual")
	ErrNoReceipt   = errors.New("no active receipt")
)

// IDGenerator generates unique IDs for stored documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SplitMode is the caller-side assignment policy.
type SplitMode string

const (
	SplitEqual  SplitMode = "equal"
	SplitManual SplitMode = "manual"
)

// SessionView is a detached copy of a session, safe to encode after the
// session lock is released.
type SessionView struct {
	Phase           session.Phase    `json:"phase"`
	Receipt         *bill.Receipt    `json:"receipt"`
	People          []bill.Person    `json:"people"`
	RecentNames     []string         `json:"recent_names"`
	Assigned        int              `json:"assigned"`
	ItemCount       int              `json:"item_count"`
	FirstUnassigned int              `json:"first_unassigned"`
	Settlement      *bill.Settlement `json:"settlement,omitempty"`
	SavedID         string           `json:"saved_id,omitempty"`
}

func viewOf(us *userSession) *SessionView {
	s := us.s
	assigned, total := s.Progress()
	return &SessionView{
		Phase:           s.Phase(),
		Receipt:         s.Receipt().Clone(),
		People:          s.People(),
		RecentNames:     s.RecentNames(),
		Assigned:        assigned,
		ItemCount:       total,
		FirstUnassigned: s.FirstUnassigned(),
		Settlement:      s.Settlement(),
		SavedID:         us.savedID,
	}
}

// ManualItem is a line item typed in by the user.
type ManualItem struct {
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
}

// ManualReceipt is a receipt entered without scanning.
type ManualReceipt struct {
	Title string          `json:"title"`
	Items []ManualItem    `json:"items"`
	Tax   decimal.Decimal `json:"tax"`
	Tip   decimal.Decimal `json:"tip"`
}

// Service coordinates scanning, persistence and the per-user sessions
type Service struct {
	db          store.DB
	storage     store.Storage
	batch       *scanning.Batch
	sessions    *Sessions
	metrics     *Metrics
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with uuid ids and the system clock
func NewService(db store.DB, storage store.Storage, batch *scanning.Batch, sessions *Sessions, metrics *Metrics) *Service {
	return NewServiceWithDeps(db, storage, batch, sessions, metrics, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db store.DB, storage store.Storage, batch *scanning.Batch, sessions *Sessions, metrics *Metrics, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		batch:       batch,
		sessions:    sessions,
		metrics:     metrics,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Session returns the user's current session state.
func (s *Service) Session(userID string) *SessionView {
	var view *SessionView
	s.sessions.with(userID, func(us *userSession) error {
		view = viewOf(us)
		return nil
	})
	return view
}

// mutate runs fn on the user's session and returns the resulting view.
func (s *Service) mutate(userID string, fn func(us *userSession) error) (*SessionView, error) {
	var view *SessionView
	err := s.sessions.with(userID, func(us *userSession) error {
		if err := fn(us); err != nil {
			return err
		}
		view = viewOf(us)
		return nil
	})
	return view, err
}

// Scan archives the uploaded images, extracts them as one receipt and starts
// assignment. Archived images are removed again if the batch fails.
func (s *Service) Scan(ctx context.Context, userID string, images []scanning.Image) (*SessionView, error) {
	if len(images) == 0 {
		return nil, scanning.ErrNoItems
	}
	// Fail before paying for extraction when the session cannot accept a receipt.
	err := s.sessions.with(userID, func(us *userSession) error {
		if us.s.Phase() != session.PhaseCapture {
			return fmt.Errorf("%w: cannot scan during %s", session.ErrInvalidTransition, us.s.Phase())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	batchID := s.idGenerator.Generate()
	saved := make([]string, 0, len(images))
	for i, img := range images {
		name, err := s.storage.Save(fmt.Sprintf("%s_%d_%s", batchID, i, store.SanitizeFilename(img.Name)), img.Data)
		if err != nil {
			s.deleteImages(saved)
			return nil, fmt.Errorf("saving image: %w", err)
		}
		saved = append(saved, name)
	}

	started := time.Now()
	receipt, err := s.batch.Scan(ctx, images)
	if err != nil {
		s.metrics.observeScan(len(images), started, scanResult(err))
		slog.Error("Failed to scan receipt", "user", userID, "images", len(images), "error", err)
		s.deleteImages(saved)
		return nil, err
	}
	s.metrics.observeScan(len(images), started, "ok")
	slog.Info("Scanned receipt", "user", userID, "images", len(images), "items", len(receipt.Items), "total", receipt.Total)

	view, err := s.mutate(userID, func(us *userSession) error {
		if err := us.s.StartAssignment(receipt); err != nil {
			return err
		}
		us.images = saved
		us.savedID = ""
		return nil
	})
	if err != nil {
		s.deleteImages(saved)
		return nil, err
	}
	return view, nil
}

func scanResult(err error) string {
	switch {
	case errors.Is(err, scanning.ErrNotReceipt):
		return "rejected"
	case errors.Is(err, scanning.ErrNoItems):
		return "empty"
	}
	return "error"
}

func (s *Service) deleteImages(names []string) {
	for _, name := range names {
		if err := s.storage.Delete(name); err != nil {
			slog.Warn("Failed to delete image", "filename", name, "error", err)
		}
	}
}

// SubmitReceipt starts assignment with a manually entered receipt.
func (s *Service) SubmitReceipt(userID string, in ManualReceipt) (*SessionView, error) {
	items := make([]bill.Item, 0, len(in.Items))
	for _, mi := range in.Items {
		item, err := bill.NewItem(mi.Description, mi.Price, mi.OriginalPrice, mi.Discount)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	receipt, err := bill.NewReceipt(in.Title, items, in.Tax, in.Tip)
	if err != nil {
		return nil, err
	}
	return s.mutate(userID, func(us *userSession) error {
		if err := us.s.StartAssignment(receipt); err != nil {
			return err
		}
		us.images = nil
		us.savedID = ""
		return nil
	})
}

// AddPerson adds someone to the user's roster.
func (s *Service) AddPerson(userID, name string) (*SessionView, error) {
	return s.mutate(userID, func(us *userSession) error {
		_, err := us.s.AddPerson(name)
		return err
	})
}

// RemovePerson removes someone and their assignments.
func (s *Service) RemovePerson(userID, personID string) (*SessionView, error) {
	return s.mutate(userID, func(us *userSession) error {
		removed, err := us.s.RemovePerson(personID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: person %s", session.ErrUnknownReference, personID)
		}
		return nil
	})
}

// Suggestions returns recent names matching query that are not on the roster.
func (s *Service) Suggestions(userID, query string) []string {
	var names []string
	s.sessions.with(userID, func(us *userSession) error {
		names = us.s.RecentSuggestions(query, SuggestionLimit)
		return nil
	})
	return names
}

// ToggleAssignment flips whether a person shares an item.
func (s *Service) ToggleAssignment(userID, itemID, personID string) (*SessionView, error) {
	return s.mutate(userID, func(us *userSession) error {
		return us.s.ToggleAssignment(itemID, personID)
	})
}

// Split switches between splitting everything equally and assigning by hand.
func (s *Service) Split(userID string, mode SplitMode) (*SessionView, error) {
	return s.mutate(userID, func(us *userSession) error {
		switch mode {
		case SplitEqual:
			return us.s.AssignAllToAll()
		case SplitManual:
			return us.s.ClearAllAssignments()
		}
		return ErrInvalidMode
	})
}

// Settle computes what everyone owes. When the bill is not ready the view
// is still returned so the caller can point at the first unassigned item.
func (s *Service) Settle(userID string) (*SessionView, error) {
	var view *SessionView
	err := s.sessions.with(userID, func(us *userSession) error {
		_, err := us.s.Settle()
		view = viewOf(us)
		return err
	})
	switch {
	case err == nil:
		s.metrics.observeSettle("ok")
	case errors.Is(err, session.ErrAssignmentNotReady):
		s.metrics.observeSettle("not_ready")
	default:
		s.metrics.observeSettle("error")
	}
	return view, err
}

// BackToAssignment leaves settlement to adjust assignments.
func (s *Service) BackToAssignment(userID string) (*SessionView, error) {
	return s.mutate(userID, func(us *userSession) error {
		return us.s.BackToAssignment()
	})
}

// Reset discards the active receipt. Images of a receipt that was never
// saved are deleted from the archive.
func (s *Service) Reset(userID string) *SessionView {
	var orphans []string
	view, _ := s.mutate(userID, func(us *userSession) error {
		if us.savedID == "" {
			orphans = us.images
		}
		us.s.Reset()
		us.images = nil
		us.savedID = ""
		return nil
	})
	s.deleteImages(orphans)
	return view
}

// SaveReceipt stores a snapshot of the active receipt and roster in the
// user's history. Saving again updates the same entry.
func (s *Service) SaveReceipt(userID, title string) (*store.SavedReceipt, error) {
	var saved *store.SavedReceipt
	err := s.sessions.with(userID, func(us *userSession) error {
		r := us.s.Receipt()
		if r == nil {
			return fmt.Errorf("%w: %w", session.ErrInvalidTransition, ErrNoReceipt)
		}
		id := us.savedID
		if id == "" {
			id = s.idGenerator.Generate()
		}
		snapshot := &store.SavedReceipt{
			ID:        id,
			Receipt:   r.Clone(),
			People:    us.s.People(),
			Images:    append([]string{}, us.images...),
			CreatedAt: s.timeSource.Now(),
		}
		if title = strings.TrimSpace(title); title != "" {
			snapshot.Receipt.Title = title
		}
		if err := s.db.SaveReceipt(userID, snapshot); err != nil {
			return fmt.Errorf("saving receipt: %w", err)
		}
		us.savedID = id
		saved = snapshot
		return nil
	})
	return saved, err
}

// ListReceipts returns the user's history. Read failures yield an empty list.
func (s *Service) ListReceipts(userID string) []*store.SavedReceipt {
	receipts, err := s.db.ListReceipts(userID)
	if err != nil {
		slog.Error("Failed to list receipts", "user", userID, "error", err)
		return []*store.SavedReceipt{}
	}
	return receipts
}

// GetReceipt returns one saved receipt.
func (s *Service) GetReceipt(userID, id string) (*store.SavedReceipt, error) {
	receipt, err := s.db.GetReceipt(userID, id)
	if err != nil {
		return nil, notFound("receipt", id, err)
	}
	return receipt, nil
}

// DeleteReceipt removes a saved receipt and its archived images.
func (s *Service) DeleteReceipt(userID, id string) error {
	receipt, err := s.db.GetReceipt(userID, id)
	if err != nil {
		return notFound("receipt", id, err)
	}
	if err := s.db.DeleteReceipt(userID, id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	s.deleteImages(receipt.Images)
	s.sessions.with(userID, func(us *userSession) error {
		if us.savedID == id {
			us.savedID = ""
			us.images = nil
		}
		return nil
	})
	return nil
}

// notFound logs unexpected read failures and reports the document as
// missing either way.
func notFound(kind, id string, err error) error {
	if !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to read "+kind, "id", id, "error", err)
	}
	return fmt.Errorf("%w: %s %s", session.ErrUnknownReference, kind, id)
}

// ListGroups returns the user's saved groups. Read failures yield an empty list.
func (s *Service) ListGroups(userID string) []*bill.SavedGroup {
	groups, err := s.db.ListGroups(userID)
	if err != nil {
		slog.Error("Failed to list groups", "user", userID, "error", err)
		return []*bill.SavedGroup{}
	}
	return groups
}

// SaveGroup snapshots the current roster under name.
func (s *Service) SaveGroup(userID, name string) (*bill.SavedGroup, error) {
	var group bill.SavedGroup
	err := s.sessions.with(userID, func(us *userSession) error {
		var err error
		group, err = us.s.SnapshotGroup(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	group.ID = s.idGenerator.Generate()
	group.CreatedAt = s.timeSource.Now()
	if err := s.db.SaveGroup(userID, &group); err != nil {
		return nil, fmt.Errorf("saving group: %w", err)
	}
	return &group, nil
}

// DeleteGroup removes a saved group, clearing it as the default if needed.
func (s *Service) DeleteGroup(userID, id string) error {
	if _, err := s.db.GetGroup(userID, id); err != nil {
		return notFound("group", id, err)
	}
	if err := s.db.DeleteGroup(userID, id); err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	if prefs := s.Preferences(userID); prefs.DefaultGroupID == id {
		prefs.DefaultGroupID = ""
		if err := s.db.SavePreferences(userID, prefs); err != nil {
			return fmt.Errorf("saving preferences: %w", err)
		}
	}
	return nil
}

// LoadGroup replaces the roster with a saved group. Confirming the replace
// is up to the client.
func (s *Service) LoadGroup(userID, id string) (*SessionView, error) {
	group, err := s.db.GetGroup(userID, id)
	if err != nil {
		return nil, notFound("group", id, err)
	}
	return s.mutate(userID, func(us *userSession) error {
		return us.s.LoadGroup(*group)
	})
}

// Preferences returns the user's settings, empty when none are stored or
// they cannot be read.
func (s *Service) Preferences(userID string) *bill.Preferences {
	prefs, err := s.db.GetPreferences(userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to read preferences", "user", userID, "error", err)
		}
		return &bill.Preferences{}
	}
	return prefs
}

// SetPreferences stores the user's settings. A default group must exist.
func (s *Service) SetPreferences(userID string, prefs bill.Preferences) (*bill.Preferences, error) {
	if prefs.DefaultGroupID != "" {
		if _, err := s.db.GetGroup(userID, prefs.DefaultGroupID); err != nil {
			return nil, notFound("group", prefs.DefaultGroupID, err)
		}
	}
	if err := s.db.SavePreferences(userID, &prefs); err != nil {
		return nil, fmt.Errorf("saving preferences: %w", err)
	}
	return &prefs, nil
}
