package app

import (
	"context"
	"strings"

	"github.com/joss/llmrouter/internal/compose"
	"github.com/joss/llmrouter/internal/dispatch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	strutil "github.com/joss/llmrouter/internal/strings"
)

// Ask is one operator prompt.
type Ask struct {
	Prompt   string
	ModelID  string
	Template string
	Vars     map[string]string
	Params   domain.Params
}

// State is everything one operator session carries between actions:
// the current session, the pending context, the last outcome, and the
// auto-confirm flag. It is owned by the top-level driver and passed
// explicitly.
type State struct {
	app *App

	SessionID   string
	Context     []domain.ContextItem
	System      string
	Budget      int
	AutoConfirm bool
	Last        *dispatch.Outcome
}

// NewState starts an operator session with the configured defaults.
func (a *App) NewState() *State {
	return &State{
		app:         a,
		Budget:      a.Config.TokenBudget,
		AutoConfirm: a.Config.AutoConfirm,
	}
}

// App returns the pipeline the state runs against.
func (s *State) App() *App { return s.app }

// AttachContext loads files or glob patterns under the base directory
// and appends them to the pending context.
func (s *State) AttachContext(patterns ...string) ([]domain.ContextItem, error) {
	items, err := s.app.Loader.LoadAll(patterns)
	if err != nil {
		return nil, err
	}
	s.Context = append(s.Context, items...)
	return items, nil
}

// AttachInline appends a pasted snippet to the pending context.
func (s *State) AttachInline(label, content string) domain.ContextItem {
	it := s.app.Composer.Inline(label, content)
	s.Context = append(s.Context, it)
	return it
}

// DetachContext removes the item with label.
func (s *State) DetachContext(label string) bool {
	for i, it := range s.Context {
		if it.Label == label {
			s.Context = append(s.Context[:i], s.Context[i+1:]...)
			return true
		}
	}
	return false
}

// ClearContext ends the composition cycle's context.
func (s *State) ClearContext() {
	s.Context = nil
}

// ContextTokens is the estimated cost of the pending context.
func (s *State) ContextTokens() int {
	n := 0
	for _, it := range s.Context {
		n += it.Tokens
	}
	return n
}

// StartSession creates a session and makes it current.
func (s *State) StartSession(ctx context.Context, title string, tags []string) (domain.Session, error) {
	sess, err := s.app.Store.CreateSession(ctx, title, tags)
	if err != nil {
		return domain.Session{}, err
	}
	s.SessionID = sess.ID
	return sess, nil
}

// ResumeSession makes an existing session current.
func (s *State) ResumeSession(ctx context.Context, id string) (domain.Session, error) {
	sess, err := s.app.Store.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	s.SessionID = sess.ID
	return sess, nil
}

// Plan resolves the model and composes the prompt with the pending
// context, without executing.
func (s *State) Plan(ask Ask) (dispatch.Plan, error) {
	in := compose.Input{
		Prompt: ask.Prompt,
		System: s.System,
		Items:  s.Context,
		Vars:   ask.Vars,
		Budget: s.Budget,
	}
	if ask.Template != "" {
		t, err := s.app.Templates.Resolve(ask.Template)
		if err != nil {
			return dispatch.Plan{}, err
		}
		in.Template = &t
	}
	return s.app.Dispatcher.Prepare(dispatch.Request{
		SessionID: s.SessionID,
		ModelID:   ask.ModelID,
		Input:     in,
		Params:    ask.Params,
	})
}

// Execute runs a plan in the current session, creating one titled after
// the prompt when none is open. Once the adapter has been invoked the
// pending context is cleared.
func (s *State) Execute(ctx context.Context, p dispatch.Plan) (dispatch.Outcome, error) {
	if s.SessionID == "" {
		if _, err := s.StartSession(ctx, strutil.Preview(p.Composition.Prompt, 60), nil); err != nil {
			return dispatch.Outcome{Plan: p}, err
		}
	}
	p.SessionID = s.SessionID

	out, err := s.app.Dispatcher.Execute(ctx, p)
	if err == nil || errkind.Is(err, errkind.KindCancellation) {
		s.ClearContext()
	}
	if err == nil {
		s.Last = &out
	}
	return out, err
}

// Ask plans and executes in one step.
func (s *State) Ask(ctx context.Context, ask Ask) (dispatch.Outcome, error) {
	p, err := s.Plan(ask)
	if err != nil {
		return dispatch.Outcome{Plan: p}, err
	}
	return s.Execute(ctx, p)
}

// RememberOffer returns the preference the operator may confirm after a
// successful dispatch. Nothing is offered for low-confidence selections,
// for models already preferred, or when the model does not advertise
// the detected category.
func (s *State) RememberOffer(out dispatch.Outcome) (domain.Preference, bool) {
	if out.Result.Status != domain.StatusOK {
		return domain.Preference{}, false
	}
	sel := out.Selection
	if sel == nil {
		detected := s.app.Selector.Select(out.Composition.Prompt)
		sel = &detected
	}
	if sel.Low || !out.Model.Advertises(sel.Category) {
		return domain.Preference{}, false
	}
	if cur, ok := s.app.Prefs.Get(sel.Category); ok && cur == out.Model.ID {
		return domain.Preference{}, false
	}
	return domain.Preference{Category: sel.Category, ModelID: out.Model.ID}, true
}

// Remember stores a confirmed preference.
func (s *State) Remember(ctx context.Context, p domain.Preference) error {
	return s.app.Selector.Remember(ctx, p.Category, p.ModelID)
}

// ToggleAutoConfirm flips the flag and persists it to config.json.
func (s *State) ToggleAutoConfirm() (bool, error) {
	s.AutoConfirm = !s.AutoConfirm
	s.app.Config.AutoConfirm = s.AutoConfirm
	if err := s.app.SaveConfig(); err != nil {
		return s.AutoConfirm, err
	}
	return s.AutoConfirm, nil
}

// ParseVars turns key=value pairs into a variable map. Later pairs win.
func ParseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errkind.Newf(errkind.KindConfig, "parse vars", "%q is not key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}
