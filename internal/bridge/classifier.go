package bridge

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/pkg/models"
)

// Classifier turns one output line into an event. Lines that should not be
// forwarded return false.
type Classifier interface {
	Classify(stream models.Stream, line string) (models.Event, bool)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(stream models.Stream, line string) (models.Event, bool)

// Classify calls f.
func (f ClassifierFunc) Classify(stream models.Stream, line string) (models.Event, bool) {
	return f(stream, line)
}

// Resolver maps a player name seen in server output to a display mention.
type Resolver interface {
	Resolve(name string) (string, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (string, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(name string) (string, bool) {
	return f(name)
}

// RosterResolver resolves slot names against a fixed copy of the roster.
type RosterResolver struct {
	mentions map[string]string
}

// NewRosterResolver copies participants; later roster changes are not seen.
func NewRosterResolver(participants []models.Participant) *RosterResolver {
	r := &RosterResolver{mentions: make(map[string]string, len(participants))}
	for _, p := range participants {
		r.mentions[p.Slot] = "@" + p.DisplayName
	}
	return r
}

// Resolve returns the mention for slot name.
func (r *RosterResolver) Resolve(name string) (string, bool) {
	mention, ok := r.mentions[name]
	return mention, ok
}

// PatternClassifier recognises transfer lines with a three-group regular
// expression and applies a passthrough policy to everything else.
type PatternClassifier struct {
	transfer    *regexp.Regexp
	passthrough string
	chatMarker  string
	resolver    Resolver
}

// NewPatternClassifier compiles pattern; an empty pattern selects
// config.DefaultTransferPattern. resolver may be nil.
func NewPatternClassifier(pattern, passthrough, chatMarker string, resolver Resolver) (*PatternClassifier, error) {
	if pattern == "" {
		pattern = config.DefaultTransferPattern
	}
	if err := config.ValidateTransferPattern(pattern); err != nil {
		return nil, fmt.Errorf("invalid transfer pattern: %w", err)
	}
	switch passthrough {
	case "":
		passthrough = config.PassthroughNone
	case config.PassthroughNone, config.PassthroughAll, config.PassthroughChat:
	default:
		return nil, fmt.Errorf("unknown passthrough mode %q", passthrough)
	}
	return &PatternClassifier{
		transfer:    regexp.MustCompile(pattern),
		passthrough: passthrough,
		chatMarker:  chatMarker,
		resolver:    resolver,
	}, nil
}

// Classify implements Classifier.
func (c *PatternClassifier) Classify(stream models.Stream, line string) (models.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return models.Event{}, false
	}

	ev := models.Event{Stream: stream, Time: time.Now(), Line: line}

	if m := c.transfer.FindStringSubmatch(line); m != nil {
		ev.Kind = models.EventTransfer
		ev.Actor, ev.Item, ev.Target = strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), strings.TrimSpace(m[3])
		ev.Message = FormatTransfer(c.mention(ev.Actor), ev.Item, c.mention(ev.Target))
		return ev, true
	}

	isChat := c.chatMarker != "" && strings.Contains(line, c.chatMarker)
	switch c.passthrough {
	case config.PassthroughAll:
		ev.Kind = models.EventLog
		if isChat {
			ev.Kind = models.EventChat
		}
		ev.Message = fmt.Sprintf("[%s] %s", stream, line)
		return ev, true
	case config.PassthroughChat:
		if !isChat {
			return models.Event{}, false
		}
		ev.Kind = models.EventChat
		ev.Message = line
		return ev, true
	default:
		return models.Event{}, false
	}
}

func (c *PatternClassifier) mention(name string) string {
	if c.resolver != nil {
		if mention, ok := c.resolver.Resolve(name); ok {
			return mention
		}
	}
	return "**" + name + "**"
}

// FormatTransfer renders a transfer announcement.
func FormatTransfer(actor, item, target string) string {
	return fmt.Sprintf("🎁 %s sent **%s** to %s!", actor, item, target)
}
