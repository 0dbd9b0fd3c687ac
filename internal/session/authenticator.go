package session

import (
	"context"
	"errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/browser"
)

// State is the outcome of checking a session against the live site.
type State string

const (
	LoggedIn            State = "LOGGED_IN"
	Expired             State = "EXPIRED"
	BotChallengeBlocked State = "BOT_CHALLENGE_BLOCKED"
	Unknown             State = "UNKNOWN"
)

// Markers are the page features classification looks for. Challenge holds
// lowercase body substrings, the rest hold CSS selectors.
type Markers struct {
	Challenge []string
	Logout    []string
	Login     []string
	Member    []string
}

// ClassifyPage applies the classification precedence to a loaded page:
// challenge, logout affordance, login affordance, member content.
func ClassifyPage(doc *goquery.Document, lowerBody string, m Markers) State {
	if browser.HasChallengeMarker(lowerBody, m.Challenge) {
		return BotChallengeBlocked
	}
	if doc == nil {
		return Unknown
	}
	switch {
	case anyMatch(doc, m.Logout):
		return LoggedIn
	case anyMatch(doc, m.Login):
		return Expired
	case anyMatch(doc, m.Member):
		return LoggedIn
	}
	return Unknown
}

func anyMatch(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// Authenticator turns a stored session into a browsing context and checks
// whether it is logged in.
type Authenticator struct {
	store        *Store
	opts         browser.Options
	markers      Markers
	referenceURL string
	log          *zap.Logger
}

func NewAuthenticator(store *Store, opts browser.Options, markers Markers, referenceURL string, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	if len(markers.Challenge) == 0 {
		markers.Challenge = browser.DefaultChallengeMarkers
	}
	if len(opts.ChallengeMarkers) == 0 {
		opts.ChallengeMarkers = markers.Challenge
	}
	if referenceURL == "" {
		referenceURL = opts.BaseURL
	}
	return &Authenticator{
		store:        store,
		opts:         opts,
		markers:      markers,
		referenceURL: referenceURL,
		log:          log.Named("session"),
	}
}

// CreateAuthenticatedContext returns a browsing context loaded with the
// stored session, or a fresh one when nothing is stored.
func (a *Authenticator) CreateAuthenticatedContext(_ context.Context) (browser.Browser, error) {
	bundle, err := a.store.Load()
	if err != nil {
		return nil, eris.Wrap(err, "load session")
	}

	var seed []browser.Cookie
	if bundle != nil {
		seed = bundle.Cookies
		a.log.Info("restoring stored session",
			zap.Int("cookies", len(seed)),
			zap.Time("saved_at", bundle.SavedAt))
	} else {
		a.log.Warn("no stored session, starting fresh context")
	}

	bc, err := browser.New(a.opts, seed, a.log)
	if err != nil {
		return nil, eris.Wrap(err, "create browsing context")
	}
	return bc, nil
}

// ClassifySessionState loads the reference page and classifies it. A
// navigation failure of any kind, timeouts included, counts as blocked.
func (a *Authenticator) ClassifySessionState(ctx context.Context, nav browser.Navigator) State {
	page, err := nav.Navigate(ctx, a.referenceURL)
	if err != nil {
		if page == nil || errors.Is(err, browser.ErrBotChallenge) {
			a.log.Warn("session check navigation failed", zap.Error(err))
			return BotChallengeBlocked
		}
		a.log.Debug("session check got error status, classifying body", zap.Error(err))
	}

	state := ClassifyPage(page.Doc, page.LowerBody(), a.markers)
	a.log.Info("session classified", zap.String("state", string(state)), zap.String("url", page.URL))
	return state
}

// Persist saves the context's current cookies, keeping stored origins.
func (a *Authenticator) Persist(b browser.Browser) error {
	cookies := b.Cookies()
	if len(cookies) == 0 {
		return eris.New("browsing context has no cookies to persist")
	}
	if err := a.store.SaveCookies(cookies); err != nil {
		return eris.Wrap(err, "persist session")
	}
	a.log.Debug("session persisted", zap.Int("cookies", len(cookies)))
	return nil
}

// Verify opens a context on the stored session and classifies it.
func (a *Authenticator) Verify(ctx context.Context) (State, error) {
	b, err := a.CreateAuthenticatedContext(ctx)
	if err != nil {
		return Unknown, err
	}
	defer b.Close()

	state := a.ClassifySessionState(ctx, b)
	if state == LoggedIn {
		if err := a.Persist(b); err != nil {
			a.log.Warn("could not persist verified session", zap.Error(err))
		}
	}
	return state, nil
}
