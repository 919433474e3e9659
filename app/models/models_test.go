package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepoOwnerAndName(t *testing.T) {
	r := &Repo{FullName: "acme/widgets", Owner: "ignored", Name: "ignored"}
	owner, name := r.OwnerAndName()
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)

	r = &Repo{FullName: "broken", Owner: "acme", Name: "widgets"}
	owner, name = r.OwnerAndName()
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)
}

func TestRepoTargetBranch(t *testing.T) {
	assert.Equal(t, "develop", (&Repo{DefaultBranch: "develop"}).TargetBranch("feature"))
	assert.Equal(t, "feature", (&Repo{}).TargetBranch("feature"))
	assert.Equal(t, "main", (&Repo{}).TargetBranch(""))
}

func TestRepoSettingsDocTypeList(t *testing.T) {
	s := RepoSettings{DocTypes: "readme, changelog,,api "}
	assert.Equal(t, []string{"readme", "changelog", "api"}, s.DocTypeList())
	assert.Empty(t, RepoSettings{}.DocTypeList())

	d := DefaultRepoSettings()
	assert.True(t, d.AutoUpdate)
	assert.True(t, d.EmailNotifications)
	assert.False(t, d.CreatePullRequest)
}

func TestJobIsTerminal(t *testing.T) {
	for status, want := range map[JobStatus]bool{
		JobStatusPending:    false,
		JobStatusProcessing: false,
		JobStatusCompleted:  true,
		JobStatusFailed:     true,
		JobStatusDeadLetter: true,
	} {
		assert.Equal(t, want, (&Job{Status: status}).IsTerminal(), status)
	}
}

func TestUserValidate(t *testing.T) {
	assert.NoError(t, (&User{Name: "Jane", Email: "jane@example.com"}).Validate())
	assert.NoError(t, (&User{Name: "no mail"}).Validate())
	assert.Error(t, (&User{Email: "not-an-email"}).Validate())
}
