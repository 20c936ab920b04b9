package pipeline

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/myndlens/vox/pkg/mandate"
)

// ToolManifest is a skill's tool-requirement manifest.
type ToolManifest struct {
	Profile string   `yaml:"profile" json:"profile"`
	Allow   []string `yaml:"allow" json:"allow"`
}

// Skill is one candidate capability in the library.
type Skill struct {
	Name            string       `yaml:"name" json:"name"`
	Category        string       `yaml:"category" json:"category"`
	ActionClasses   []string     `yaml:"action_classes" json:"action_classes"`
	TriggerKeywords []string     `yaml:"trigger_keywords" json:"trigger_keywords"`
	SkillSet        []string     `yaml:"skill_set" json:"skill_set"`
	Manifest        ToolManifest `yaml:"manifest" json:"manifest"`
}

// skillsFile is the YAML shape: shared defaults merged into every skill.
type skillsFile struct {
	Defaults Skill   `yaml:"defaults"`
	Skills   []Skill `yaml:"skills"`
}

// SkillLibrary holds the loaded candidate skills.
type SkillLibrary struct {
	skills []Skill
}

// builtinSkillsYAML covers the common action classes when no skill file is
// configured.
const builtinSkillsYAML = `
defaults:
  manifest:
    profile: restricted
skills:
  - name: email_sender
    category: communication
    action_classes: [COMM_SEND]
    trigger_keywords: [send, email, forward, reply]
    skill_set: [recipient, subject, body]
    manifest:
      allow: [email.send]
  - name: calendar_scheduler
    category: scheduling
    action_classes: [CALENDAR_CREATE]
    trigger_keywords: [schedule, meeting, calendar, book]
    skill_set: [attendees, when, duration]
    manifest:
      allow: [calendar.create]
  - name: reminder_setter
    category: scheduling
    action_classes: [REMINDER_CREATE]
    trigger_keywords: [remind, reminder, later]
    skill_set: [when, message]
    manifest:
      allow: [reminder.create]
  - name: info_lookup
    category: retrieval
    action_classes: [INFO_QUERY]
    trigger_keywords: [find, look up, search, what, when]
    skill_set: [query]
    manifest:
      allow: [search.query]
`

// BuiltinSkillLibrary returns the compiled-in library used when no skills
// file is configured.
func BuiltinSkillLibrary() *SkillLibrary {
	lib, err := parseSkillLibrary([]byte(builtinSkillsYAML))
	if err != nil {
		// The builtin YAML is a compile-time constant; a parse failure is
		// a programming error.
		panic(fmt.Sprintf("builtin skill library: %v", err))
	}
	return lib
}

// LoadSkillLibrary reads the YAML skill library, merging file-level
// defaults into each skill.
func LoadSkillLibrary(path string) (*SkillLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill library: %w", err)
	}
	return parseSkillLibrary(data)
}

func parseSkillLibrary(data []byte) (*SkillLibrary, error) {
	var f skillsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse skill library: %w", err)
	}
	for i := range f.Skills {
		if err := mergo.Merge(&f.Skills[i], f.Defaults); err != nil {
			return nil, fmt.Errorf("merge skill defaults for %q: %w", f.Skills[i].Name, err)
		}
	}
	return &SkillLibrary{skills: f.Skills}, nil
}

// Skills returns the loaded skill list.
func (l *SkillLibrary) Skills() []Skill { return l.skills }

// Index returns name → category for prompt sections.
func (l *SkillLibrary) Index() map[string]string {
	out := make(map[string]string, len(l.skills))
	for _, s := range l.skills {
		out[s.Name] = s.Category
	}
	return out
}

// Determination classifies how an action will be served.
type Determination string

const (
	UseExisting Determination = "use_existing"
	Adapt       Determination = "adapt"
	CreateNew   Determination = "create_new"
)

// Selection is the determiner's verdict for one mandate action.
type Selection struct {
	Action        string        `json:"action"`
	Determination Determination `json:"determination"`
	Skill         *Skill        `json:"skill,omitempty"`
	Score         int           `json:"score"`
}

// Scoring weights. Action-class fit dominates; keyword hits and skill-set
// overlap refine within a class.
const (
	actionClassWeight = 5
	keywordWeight     = 2
	overlapWeight     = 1

	useExistingScore = 7
	adaptScore       = 3
)

// scoreSkill is the deterministic fit score of one skill for one action.
func scoreSkill(s Skill, actionClass, actionName, transcript string, neededSkills []string) int {
	score := 0
	normClass := normalizeActionClass(actionClass)
	for _, c := range s.ActionClasses {
		if normalizeActionClass(c) == normClass {
			score += actionClassWeight
			break
		}
	}

	haystack := strings.ToLower(actionName + " " + transcript)
	for _, kw := range s.TriggerKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			score += keywordWeight
		}
	}

	have := make(map[string]bool, len(s.SkillSet))
	for _, sk := range s.SkillSet {
		have[strings.ToLower(sk)] = true
	}
	for _, need := range neededSkills {
		if have[strings.ToLower(need)] {
			score += overlapWeight
		}
	}
	return score
}

// Determine selects or synthesizes a skill per mandate action. Deterministic:
// same mandate and library, same result.
func (l *SkillLibrary) Determine(m *mandate.Mandate, actionClass, transcript string) []Selection {
	selections := make([]Selection, 0, len(m.Actions))
	for _, action := range m.Actions {
		var needed []string
		for dim := range action.Dimensions {
			needed = append(needed, dim)
		}
		sort.Strings(needed)

		best := -1
		bestScore := 0
		for i, s := range l.skills {
			score := scoreSkill(s, actionClass, action.Name, transcript, needed)
			if score > bestScore || (score == bestScore && best >= 0 && s.Name < l.skills[best].Name) {
				best, bestScore = i, score
			}
		}

		sel := Selection{Action: action.Name, Score: bestScore, Determination: CreateNew}
		if best >= 0 && bestScore >= adaptScore {
			skill := l.skills[best]
			sel.Skill = &skill
			if bestScore >= useExistingScore {
				sel.Determination = UseExisting
			} else {
				sel.Determination = Adapt
			}
		}
		selections = append(selections, sel)
	}
	return selections
}

// Coordination is how sub-agents execute relative to each other.
type Coordination string

const (
	CoordSequential Coordination = "sequential"
	CoordParallel   Coordination = "parallel"
	CoordHybrid     Coordination = "hybrid"
)

// AgentSpec is one sub-agent produced by the topology stage.
type AgentSpec struct {
	Name     string       `json:"name"`
	Category string       `json:"category"`
	Actions  []string     `json:"actions"`
	Skills   []string     `json:"skills"`
	Manifest ToolManifest `json:"manifest"`
}

// Topology is the execution plan over the sub-agents.
type Topology struct {
	Agents       []AgentSpec  `json:"agents"`
	Coordination Coordination `json:"coordination"`
}

// BuildTopology groups selections by skill category into 1..N sub-agent
// specs and picks the coordination mode: one agent runs sequential, several
// single-action agents run parallel, anything else is hybrid.
func BuildTopology(selections []Selection) Topology {
	byCategory := make(map[string]*AgentSpec)
	var order []string
	for _, sel := range selections {
		category := "general"
		var skillName string
		manifest := ToolManifest{Profile: "restricted"}
		if sel.Skill != nil {
			category = sel.Skill.Category
			skillName = sel.Skill.Name
			manifest = sel.Skill.Manifest
		}

		spec, ok := byCategory[category]
		if !ok {
			spec = &AgentSpec{
				Name:     "agent-" + category,
				Category: category,
				Manifest: manifest,
			}
			byCategory[category] = spec
			order = append(order, category)
		}
		spec.Actions = append(spec.Actions, sel.Action)
		if skillName != "" {
			spec.Skills = append(spec.Skills, skillName)
		}
	}

	topo := Topology{Coordination: CoordSequential}
	for _, category := range order {
		topo.Agents = append(topo.Agents, *byCategory[category])
	}

	if len(topo.Agents) > 1 {
		topo.Coordination = CoordParallel
		for _, a := range topo.Agents {
			if len(a.Actions) > 1 {
				topo.Coordination = CoordHybrid
				break
			}
		}
	}
	return topo
}
