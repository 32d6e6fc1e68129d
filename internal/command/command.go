// Package command parses the interactive line grammar (spec.md §6)
// into typed commands before the orchestrator dispatches them.
package command

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidCommand is returned for input that matches no grammar rule
// (spec.md §7's InvalidCommand kind).
var ErrInvalidCommand = errors.New("command: invalid command")

// Kind enumerates every interactive command (spec.md §6).
type Kind int

const (
	KindJoin Kind = iota
	KindLeave
	KindNick
	KindList
	KindGetMembers
	KindGetTopic
	KindSetTopic
	KindMsg
	KindNeighbors
	KindPing
	KindRoute
	KindPlot
	KindGetPublicKey
	KindGetKeyPair
	KindHelp
	KindQuit
)

// Command is a parsed interactive command; only the fields relevant to
// Kind are populated.
type Command struct {
	Kind   Kind
	Name   string // group name or nickname target
	Key    string // group password (JOIN)
	Text   string // free text (SETTOPIC, MSG)
	Target string // PING target: nickname or ip
}

type rule struct {
	kind    Kind
	pattern *regexp.Regexp
	build   func([]string) Command
}

// Arguments are matched case-sensitively; keywords are matched
// case-insensitively by uppercasing the first token before dispatch.
var rules = []rule{
	{KindJoin, regexp.MustCompile(`^JOIN\s+(\S+)\s+(\S+)$`), func(m []string) Command {
		return Command{Kind: KindJoin, Name: m[1], Key: m[2]}
	}},
	{KindLeave, regexp.MustCompile(`^LEAVE\s+(\S+)$`), func(m []string) Command {
		return Command{Kind: KindLeave, Name: m[1]}
	}},
	{KindNick, regexp.MustCompile(`^NICK\s+(\S+)$`), func(m []string) Command {
		return Command{Kind: KindNick, Name: m[1]}
	}},
	{KindList, regexp.MustCompile(`^LIST$`), func(m []string) Command {
		return Command{Kind: KindList}
	}},
	{KindGetMembers, regexp.MustCompile(`^GETMEMBERS\s+(\S+)$`), func(m []string) Command {
		return Command{Kind: KindGetMembers, Name: m[1]}
	}},
	{KindGetTopic, regexp.MustCompile(`^GETTOPIC\s+(\S+)$`), func(m []string) Command {
		return Command{Kind: KindGetTopic, Name: m[1]}
	}},
	{KindSetTopic, regexp.MustCompile(`^SETTOPIC\s+(\S+)\s+(.+)$`), func(m []string) Command {
		return Command{Kind: KindSetTopic, Name: m[1], Text: m[2]}
	}},
	{KindMsg, regexp.MustCompile(`^MSG\s+(\S+)\s+(.+)$`), func(m []string) Command {
		return Command{Kind: KindMsg, Name: m[1], Text: m[2]}
	}},
	{KindNeighbors, regexp.MustCompile(`^NEIGHBORS$`), func(m []string) Command {
		return Command{Kind: KindNeighbors}
	}},
	{KindPing, regexp.MustCompile(`^PING\s+(\S+)$`), func(m []string) Command {
		return Command{Kind: KindPing, Target: m[1]}
	}},
	{KindRoute, regexp.MustCompile(`^ROUTE(?:\s+(\S+))?$`), func(m []string) Command {
		return Command{Kind: KindRoute, Name: m[1]}
	}},
	{KindPlot, regexp.MustCompile(`^PLOT$`), func(m []string) Command {
		return Command{Kind: KindPlot}
	}},
	{KindGetPublicKey, regexp.MustCompile(`^GETPUBLICKEY\s+(\S+)$`), func(m []string) Command {
		return Command{Kind: KindGetPublicKey, Name: m[1]}
	}},
	{KindGetKeyPair, regexp.MustCompile(`^GETKEYPAIR$`), func(m []string) Command {
		return Command{Kind: KindGetKeyPair}
	}},
	{KindHelp, regexp.MustCompile(`^HELP$`), func(m []string) Command {
		return Command{Kind: KindHelp}
	}},
	{KindQuit, regexp.MustCompile(`^QUIT$`), func(m []string) Command {
		return Command{Kind: KindQuit}
	}},
}

// Parse matches line against the command grammar. The leading keyword
// is matched case-insensitively; everything after it is case-sensitive
// (spec.md §6). Returns ErrInvalidCommand when nothing matches.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{}, ErrInvalidCommand
	}
	fields := strings.SplitN(trimmed, " ", 2)
	keyword := strings.ToUpper(fields[0])
	rest := ""
	if len(fields) == 2 {
		rest = strings.TrimLeft(fields[1], " ")
	}
	normalized := keyword
	if rest != "" {
		normalized = keyword + " " + rest
	}
	for _, r := range rules {
		if m := r.pattern.FindStringSubmatch(normalized); m != nil {
			return r.build(m), nil
		}
	}
	return Command{}, ErrInvalidCommand
}
