package intent

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	ActionUnknown  = "unknown"
	ActionRegister = "register"
	ActionHelp     = "help"
)

// CommandMarker starts a structured command.
const CommandMarker = "/"

// ErrClassifierUnavailable marks transient classifier failures.
var ErrClassifierUnavailable = errors.New("intent classifier unavailable")

// CanonicalAction is the single action vocabulary both input modes map
// onto.
type CanonicalAction struct {
	Name       string   `json:"name"`
	Args       []string `json:"args,omitempty"`
	Structured bool     `json:"structured"`
	// Label and Confidence are set for free text only.
	Label        string  `json:"label,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	TableVersion string  `json:"table_version,omitempty"`
}

func (a CanonicalAction) IsUnknown() bool {
	return a.Name == ActionUnknown
}

// Arg returns the i-th argument or "".
func (a CanonicalAction) Arg(i int) string {
	if i < 0 || i >= len(a.Args) {
		return ""
	}
	return a.Args[i]
}

// Vocabulary resolves command names and aliases to canonical names.
type Vocabulary interface {
	Canonical(name string) (string, bool)
}

type ClassifyContext struct {
	TeamID            string `json:"team_id"`
	ConversationClass string `json:"conversation_class"`
}

type Classifier interface {
	Classify(ctx context.Context, text string, cctx ClassifyContext) (label string, confidence float64, err error)
}

type Normalizer struct {
	vocabulary  Vocabulary
	classifier  Classifier
	table       LabelTable
	botUsername string
}

func NewNormalizer(vocabulary Vocabulary, classifier Classifier, table LabelTable, botUsername string) *Normalizer {
	return &Normalizer{
		vocabulary:  vocabulary,
		classifier:  classifier,
		table:       table,
		botUsername: strings.ToLower(strings.TrimPrefix(botUsername, "@")),
	}
}

func IsStructured(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), CommandMarker)
}

// Normalize maps a message onto a canonical action. Structured commands
// never reach the classifier. Only ErrClassifierUnavailable is returned
// as an error; every other failure yields the unknown action.
func (n *Normalizer) Normalize(ctx context.Context, text string, structured bool, cctx ClassifyContext) (CanonicalAction, error) {
	if structured {
		return n.parseCommand(text), nil
	}
	return n.classify(ctx, text, cctx)
}

func (n *Normalizer) parseCommand(text string) CanonicalAction {
	fields := strings.Fields(strings.TrimSpace(text))
	action := CanonicalAction{Name: ActionUnknown, Structured: true}
	if len(fields) == 0 {
		return action
	}

	name := strings.TrimPrefix(fields[0], CommandMarker)
	action.Args = fields[1:]

	if at := strings.IndexByte(name, '@'); at >= 0 {
		addressee := strings.ToLower(name[at+1:])
		name = name[:at]
		// addressed to another bot in the same group
		if n.botUsername != "" && addressee != n.botUsername {
			return action
		}
	}

	name = strings.ToLower(name)
	if canonical, ok := n.vocabulary.Canonical(name); ok {
		action.Name = canonical
	}
	return action
}

func (n *Normalizer) classify(ctx context.Context, text string, cctx ClassifyContext) (CanonicalAction, error) {
	action := CanonicalAction{Name: ActionUnknown, TableVersion: n.table.Version}

	text = strings.TrimSpace(text)
	if text == "" || n.classifier == nil {
		return action, nil
	}

	label, confidence, err := n.classifier.Classify(ctx, text, cctx)
	if errors.Is(err, ErrClassifierUnavailable) {
		return action, err
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"context": "intent",
			"team":    cctx.TeamID,
		}).Warn("classifier returned an unusable answer")
		return action, nil
	}

	action.Label = label
	action.Confidence = confidence

	name, ok := n.table.Lookup(label, confidence)
	if !ok {
		return action, nil
	}
	if canonical, ok := n.vocabulary.Canonical(name); ok {
		action.Name = canonical
	}
	return action, nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrClassifierUnavailable)
}
