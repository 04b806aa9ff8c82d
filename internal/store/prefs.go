package store

import (
	"errors"
	"time"

	"github.com/standardbeagle/perfdash/internal/metrics"
)

// Well-known keys.
const (
	KeyBanner   = "banner"
	KeyFeedback = "feedback"
	KeyMetrics  = "metrics"
)

// BannerPrefs is the on-page banner state.
type BannerPrefs struct {
	Pinned   bool   `json:"pinned"`
	Position string `json:"position"`
	Visible  bool   `json:"visible"`
}

// DefaultBannerPrefs is used until the user changes anything.
func DefaultBannerPrefs() BannerPrefs {
	return BannerPrefs{Position: "top-right", Visible: true}
}

// FeedbackStatus records the user's answer to the feedback prompt.
type FeedbackStatus struct {
	HasRated    bool `json:"hasRated"`
	RemindLater bool `json:"remindLater"`
}

// SavedMetrics is a page's snapshots saved for later comparison.
type SavedMetrics struct {
	URL       string              `json:"url"`
	SavedAt   time.Time           `json:"savedAt"`
	Snapshots []*metrics.Snapshot `json:"snapshots"`
}

// Banner returns the banner preferences, or the defaults.
func (s *Store) Banner() (BannerPrefs, error) {
	prefs := DefaultBannerPrefs()
	err := s.GetInto(ScopeGlobal, "", KeyBanner, &prefs)
	if errors.Is(err, ErrNotFound) {
		return DefaultBannerPrefs(), nil
	}
	return prefs, err
}

// SetBanner stores the banner preferences.
func (s *Store) SetBanner(prefs BannerPrefs) error {
	return s.Set(ScopeGlobal, "", KeyBanner, prefs)
}

// SetBannerVisible updates only the visibility flag.
func (s *Store) SetBannerVisible(visible bool) error {
	prefs, err := s.Banner()
	if err != nil {
		return err
	}
	prefs.Visible = visible
	return s.SetBanner(prefs)
}

// Feedback returns the feedback prompt status; zero when unset.
func (s *Store) Feedback() (FeedbackStatus, error) {
	var st FeedbackStatus
	err := s.GetInto(ScopeGlobal, "", KeyFeedback, &st)
	if errors.Is(err, ErrNotFound) {
		return FeedbackStatus{}, nil
	}
	return st, err
}

// SetFeedback stores the feedback prompt status.
func (s *Store) SetFeedback(st FeedbackStatus) error {
	return s.Set(ScopeGlobal, "", KeyFeedback, st)
}

// SaveMetrics stores snapshots for a page, replacing earlier ones.
func (s *Store) SaveMetrics(pageURL string, snapshots []*metrics.Snapshot) error {
	return s.Set(ScopePage, NormalizeURL(pageURL), KeyMetrics, SavedMetrics{
		URL:       NormalizeURL(pageURL),
		SavedAt:   s.now().UTC(),
		Snapshots: snapshots,
	})
}

// LoadMetrics returns the snapshots saved for a page.
func (s *Store) LoadMetrics(pageURL string) (*SavedMetrics, error) {
	var saved SavedMetrics
	if err := s.GetInto(ScopePage, NormalizeURL(pageURL), KeyMetrics, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// ClearMetrics removes the snapshots saved for a page.
func (s *Store) ClearMetrics(pageURL string) error {
	return s.Delete(ScopePage, NormalizeURL(pageURL), KeyMetrics)
}
