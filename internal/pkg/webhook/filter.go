package webhook

import (
	"strings"

	"github.com/ManuelReschke/DocFox/app/models"
)

// Filter reasons, returned to the caller and logged.
const (
	ReasonNotConnected     = "repository not connected"
	ReasonInactive         = "repository inactive"
	ReasonAutoUpdateOff    = "auto update disabled"
	ReasonAutomationBranch = "automation branch"
	ReasonNoCommits        = "no commits"
	ReasonBotAuthors       = "all commits by bots"
	ReasonBotSender        = "bot sender"
	ReasonNothingNew       = "no commits to process"
	ReasonUnsupportedEvent = "event not handled"
)

// Filter drops deliveries that would feed the pipeline its own output.
type Filter struct {
	AutomationPrefix string
	ProductName      string
	Markers          []string
}

func (f Filter) product() string { return strings.ToLower(f.ProductName) }

// IsAutomationBranch reports whether branch was created by the pipeline.
func (f Filter) IsAutomationBranch(branch string) bool {
	return f.AutomationPrefix != "" && strings.HasPrefix(branch, f.AutomationPrefix)
}

// IsBotAuthor matches automation by name or by a no-reply address.
func (f Filter) IsBotAuthor(a Author) bool {
	name := strings.ToLower(a.Name)
	email := strings.ToLower(a.Email)
	if strings.Contains(name, "bot") {
		return true
	}
	if p := f.product(); p != "" && strings.Contains(name, p) {
		return true
	}
	return strings.Contains(email, "noreply") || strings.Contains(email, "no-reply")
}

// AllBotAuthors is true only when every commit matches IsBotAuthor.
func (f Filter) AllBotAuthors(commits []Commit) bool {
	if len(commits) == 0 {
		return false
	}
	for _, c := range commits {
		if !f.IsBotAuthor(c.Author) {
			return false
		}
	}
	return true
}

func (f Filter) IsBotSender(s Sender) bool {
	if strings.EqualFold(s.Type, "Bot") {
		return true
	}
	p := f.product()
	return p != "" && strings.Contains(strings.ToLower(s.Login), p)
}

// HasMarker reports whether a commit message says it was generated.
func (f Filter) HasMarker(message string) bool {
	msg := strings.ToLower(message)
	for _, m := range f.Markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Select applies the push filters in order. It returns the commits that
// should start a run, or a reason when the whole delivery is discarded.
func (f Filter) Select(repo *models.Repo, p *PushPayload) ([]Commit, string) {
	if f.IsAutomationBranch(p.Branch()) {
		return nil, ReasonAutomationBranch
	}
	if len(p.Commits) == 0 {
		return nil, ReasonNoCommits
	}
	if f.AllBotAuthors(p.Commits) {
		return nil, ReasonBotAuthors
	}
	if f.IsBotSender(p.Sender) {
		return nil, ReasonBotSender
	}

	var out []Commit
	for _, c := range p.Commits {
		if f.HasMarker(c.Message) {
			continue
		}
		if repo.LastProcessedCommit != "" && c.ID == repo.LastProcessedCommit {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ReasonNothingNew
	}
	return out, ""
}
