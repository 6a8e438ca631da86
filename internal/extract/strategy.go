package extract

import (
	"fmt"
	"strings"
)

// Kind names one extraction strategy.
type Kind int

const (
	KindRows Kind = iota
	KindUsers
	KindUserRows
	KindChats
	KindSubmissions
	KindMessages
)

var kindNames = [...]string{
	KindRows:        "rows",
	KindUsers:       "users",
	KindUserRows:    "user_rows",
	KindChats:       "chats",
	KindSubmissions: "submissions",
	KindMessages:    "messages",
}

// DefaultSampleLimit caps the messages strategy when no limit is configured.
const DefaultSampleLimit = 10

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind resolves a strategy name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown extract strategy %q (want one of %s)", s, strings.Join(Names(), "|"))
}

// Names lists every strategy name in declaration order.
func Names() []string {
	out := make([]string, len(kindNames))
	copy(out, kindNames[:])
	return out
}

// Column maps a source column to the attribute name written to the artifact.
type Column struct {
	Source string
	As     string
}

// KeyRule says where a record's key comes from. An empty Column means a
// synthetic 0-based row index. Keep reports whether the key column also
// stays in the record.
type KeyRule struct {
	Column string
	Keep   bool
}

// Synthetic reports whether keys are row indexes.
func (k KeyRule) Synthetic() bool { return k.Column == "" }

// Strategy is the declarative description of one projection of the
// results table. A nil Columns selects every column.
type Strategy struct {
	Kind    Kind
	Columns []Column
	Key     KeyRule
	Limit   int
}

// For returns the strategy for kind. sampleLimit only applies to
// KindMessages; values <= 0 fall back to DefaultSampleLimit.
func For(kind Kind, sampleLimit int) (Strategy, error) {
	s := Strategy{Kind: kind}
	switch kind {
	case KindRows:
	case KindUsers:
		s.Columns = []Column{{Source: "Source", As: "source"}, {Source: "Status", As: "status"}}
		s.Key = KeyRule{Column: "UserID"}
	case KindUserRows:
		s.Key = KeyRule{Column: "UserID", Keep: true}
	case KindChats:
		s.Columns = same("SubmissionChatID", "FirstMessageDate", "LastMessageDate", "ParticipantCount")
		s.Key = KeyRule{Column: "SubmissionChatID", Keep: true}
	case KindSubmissions:
		s.Columns = same("SubmissionID", "UserID", "SubmissionDate", "SubmissionReference")
		s.Key = KeyRule{Column: "SubmissionID", Keep: true}
	case KindMessages:
		s.Columns = same("SenderID")
		s.Limit = sampleLimit
		if s.Limit <= 0 {
			s.Limit = DefaultSampleLimit
		}
	default:
		return Strategy{}, fmt.Errorf("unknown extract strategy %v", kind)
	}
	return s, nil
}

func same(names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Source: n, As: n}
	}
	return out
}

// selectColumns lists the columns the query must return: the projection
// plus the key column when it is not already part of it.
func (s Strategy) selectColumns() []string {
	if len(s.Columns) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.Columns)+1)
	hasKey := s.Key.Synthetic()
	for _, c := range s.Columns {
		out = append(out, c.Source)
		if strings.EqualFold(c.Source, s.Key.Column) {
			hasKey = true
		}
	}
	if !hasKey {
		out = append(out, s.Key.Column)
	}
	return out
}
