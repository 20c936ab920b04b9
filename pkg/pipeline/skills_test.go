package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/mandate"
)

const testSkillsYAML = `
defaults:
  manifest:
    profile: restricted
    allow: ["net:adapter"]
skills:
  - name: email-sender
    category: communication
    action_classes: [COMM_SEND]
    trigger_keywords: [email, send, budget]
    skill_set: [recipient, subject, body]
  - name: calendar-booker
    category: scheduling
    action_classes: [CALENDAR_CREATE]
    trigger_keywords: [meeting, book, schedule]
    skill_set: [time, attendees]
    manifest:
      profile: trusted
      allow: ["net:calendar"]
`

func loadTestLibrary(t *testing.T) *SkillLibrary {
	t.Helper()
	lib, err := parseSkillLibrary([]byte(testSkillsYAML))
	require.NoError(t, err)
	return lib
}

func TestParseSkillLibrary_MergesDefaults(t *testing.T) {
	lib := loadTestLibrary(t)
	skills := lib.Skills()
	require.Len(t, skills, 2)

	// email-sender has no manifest of its own: defaults apply.
	assert.Equal(t, "restricted", skills[0].Manifest.Profile)
	assert.Equal(t, []string{"net:adapter"}, skills[0].Manifest.Allow)

	// calendar-booker keeps its own manifest.
	assert.Equal(t, "trusted", skills[1].Manifest.Profile)
}

func testMandate(actions ...mandate.Action) *mandate.Mandate {
	return &mandate.Mandate{MandateID: "M-1", Actions: actions}
}

func TestDetermine_UseExistingOnStrongFit(t *testing.T) {
	lib := loadTestLibrary(t)
	m := testMandate(mandate.Action{
		Name:     "send budget email",
		Priority: "high",
		Dimensions: map[string]mandate.Dimension{
			"recipient": {Value: "bob", Source: mandate.SourceStated},
			"subject":   {Value: "Q3 budget", Source: mandate.SourceStated},
		},
	})

	sel := lib.Determine(m, "COMM_SEND", "send bob the q3 budget email")
	require.Len(t, sel, 1)
	assert.Equal(t, UseExisting, sel[0].Determination)
	require.NotNil(t, sel[0].Skill)
	assert.Equal(t, "email-sender", sel[0].Skill.Name)
}

func TestDetermine_CreateNewWhenNothingFits(t *testing.T) {
	lib := loadTestLibrary(t)
	m := testMandate(mandate.Action{Name: "water the plants", Priority: "low"})

	sel := lib.Determine(m, "HOME_AUTOMATION", "water the plants while I travel")
	require.Len(t, sel, 1)
	assert.Equal(t, CreateNew, sel[0].Determination)
	assert.Nil(t, sel[0].Skill)
}

func TestDetermine_Deterministic(t *testing.T) {
	lib := loadTestLibrary(t)
	m := testMandate(mandate.Action{Name: "book a meeting", Priority: "med"})

	a := lib.Determine(m, "CALENDAR_CREATE", "book a meeting with the team")
	b := lib.Determine(m, "CALENDAR_CREATE", "book a meeting with the team")
	assert.Equal(t, a, b)
}

func TestBuildTopology(t *testing.T) {
	email := Skill{Name: "email-sender", Category: "communication"}
	calendar := Skill{Name: "calendar-booker", Category: "scheduling"}

	// One agent: sequential.
	topo := BuildTopology([]Selection{
		{Action: "send email", Determination: UseExisting, Skill: &email},
	})
	assert.Equal(t, CoordSequential, topo.Coordination)
	require.Len(t, topo.Agents, 1)

	// Two single-action agents: parallel.
	topo = BuildTopology([]Selection{
		{Action: "send email", Determination: UseExisting, Skill: &email},
		{Action: "book meeting", Determination: UseExisting, Skill: &calendar},
	})
	assert.Equal(t, CoordParallel, topo.Coordination)
	assert.Len(t, topo.Agents, 2)

	// Multi-action group alongside another agent: hybrid.
	topo = BuildTopology([]Selection{
		{Action: "send email", Determination: UseExisting, Skill: &email},
		{Action: "send followup", Determination: UseExisting, Skill: &email},
		{Action: "book meeting", Determination: UseExisting, Skill: &calendar},
	})
	assert.Equal(t, CoordHybrid, topo.Coordination)
}
