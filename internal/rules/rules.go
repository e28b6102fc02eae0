// Package rules evaluates folder filter rules stored as JSON conditions and actions
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// Action types
const (
	ActionSeen    = "seen"
	ActionUnseen  = "unseen"
	ActionFlag    = "flag"
	ActionHide    = "hide"
	ActionKeyword = "keyword"
	ActionMove    = "move"
)

// Match is one condition on a message field
type Match struct {
	Value string `json:"value"`
	Regex bool   `json:"regex"`
}

// Condition lists the matches a message must satisfy. Empty matches are ignored.
type Condition struct {
	Sender    *Match `json:"sender,omitempty"`
	Recipient *Match `json:"recipient,omitempty"`
	Subject   *Match `json:"subject,omitempty"`
	Header    *Match `json:"header,omitempty"`
}

// Action is what a matching rule does
type Action struct {
	Type     string `json:"type"`
	Target   int64  `json:"target,omitempty"`
	Keyword  string `json:"keyword,omitempty"`
	Autoread bool   `json:"autoread,omitempty"`
}

// Engine evaluates rules against merged messages
type Engine struct {
	logger *logrus.Logger
}

// NewEngine creates a rule engine
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// Matches reports whether msg satisfies the rule's condition. A rule
// without any condition never matches.
func (e *Engine) Matches(ctx context.Context, rule *types.Rule, msg *types.Message, rm *remote.Message) (bool, error) {
	var c Condition
	if err := json.Unmarshal([]byte(rule.Condition), &c); err != nil {
		return false, fmt.Errorf("rule %s: invalid condition: %w", rule.Name, err)
	}
	if c.Sender == nil && c.Recipient == nil && c.Subject == nil && c.Header == nil {
		return false, nil
	}

	if c.Sender != nil {
		ok, err := matchAny(c.Sender, addressStrings(msg.From))
		if err != nil || !ok {
			return false, err
		}
	}
	if c.Recipient != nil {
		recipients := append(append(addressStrings(msg.To), addressStrings(msg.Cc)...), addressStrings(msg.Bcc)...)
		ok, err := matchAny(c.Recipient, recipients)
		if err != nil || !ok {
			return false, err
		}
	}
	if c.Subject != nil {
		ok, err := c.Subject.matches(msg.Subject)
		if err != nil || !ok {
			return false, err
		}
	}
	if c.Header != nil {
		if rm == nil || rm.RawHeader == nil {
			return false, nil
		}
		ok, err := matchAny(c.Header, strings.Split(string(rm.RawHeader), "\r\n"))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Execute applies the rule's action to the cached message and queues the
// operations that carry it to the server
func (e *Engine) Execute(ctx context.Context, q *cache.Queries, rule *types.Rule, msg *types.Message) error {
	var a Action
	if err := json.Unmarshal([]byte(rule.Action), &a); err != nil {
		return fmt.Errorf("rule %s: invalid action: %w", rule.Name, err)
	}
	e.logger.WithFields(logrus.Fields{
		"rule":    rule.Name,
		"action":  a.Type,
		"message": msg.ID,
	}).Info("Applying rule")

	switch a.Type {
	case ActionSeen, ActionUnseen:
		seen := a.Type == ActionSeen
		msg.UISeen = seen
		if err := q.UpdateMessage(ctx, msg); err != nil {
			return err
		}
		_, err := q.QueueOperation(ctx, msg.FolderID, &msg.ID, types.SeenArgs{Seen: seen})
		return err
	case ActionFlag:
		msg.UIFlagged = true
		if err := q.UpdateMessage(ctx, msg); err != nil {
			return err
		}
		_, err := q.QueueOperation(ctx, msg.FolderID, &msg.ID, types.FlagArgs{Flagged: true})
		return err
	case ActionHide:
		return q.SetMessageUIHide(ctx, msg.ID, true)
	case ActionKeyword:
		if a.Keyword == "" {
			return fmt.Errorf("rule %s: keyword missing", rule.Name)
		}
		_, err := q.QueueOperation(ctx, msg.FolderID, &msg.ID, types.KeywordArgs{Keyword: a.Keyword, Set: true})
		return err
	case ActionMove:
		return e.move(ctx, q, rule, msg, a)
	}
	return fmt.Errorf("rule %s: unknown action %q", rule.Name, a.Type)
}

// move hides the message and queues its move to another folder of the same account
func (e *Engine) move(ctx context.Context, q *cache.Queries, rule *types.Rule, msg *types.Message, a Action) error {
	target, err := q.GetFolder(ctx, a.Target)
	if err != nil {
		return err
	}
	if target == nil || target.AccountID != msg.AccountID {
		return fmt.Errorf("rule %s: target folder %d not found", rule.Name, a.Target)
	}
	if target.ID == msg.FolderID {
		return nil
	}

	if err := q.SetMessageUIHide(ctx, msg.ID, true); err != nil {
		return err
	}
	_, err = q.QueueOperation(ctx, msg.FolderID, &msg.ID, types.MoveArgs{Target: target.ID, Autoread: a.Autoread})
	return err
}

func (m *Match) matches(s string) (bool, error) {
	if m.Value == "" {
		return true, nil
	}
	if m.Regex {
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", m.Value, err)
		}
		return re.MatchString(s), nil
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(m.Value)), nil
}

func matchAny(m *Match, values []string) (bool, error) {
	for _, v := range values {
		ok, err := m.matches(v)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func addressStrings(list types.AddressList) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Name != "" {
			out = append(out, a.Name+" <"+a.Address+">")
		} else {
			out = append(out, a.Address)
		}
	}
	return out
}
