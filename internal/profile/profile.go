// Package profile holds the operator's structured personal data used to answer
// form questions without asking.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPath is returned by Get for a path outside the profile schema.
var ErrUnknownPath = errors.New("unknown profile path")

// Profile is the fixed-schema profile document.
type Profile struct {
	Personal    Personal    `yaml:"personal"`
	Work        Work        `yaml:"work"`
	Education   Education   `yaml:"education"`
	Preferences Preferences `yaml:"preferences"`
}

type Personal struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email"`
	Phone     string `yaml:"phone"`
	City      string `yaml:"city"`
	Country   string `yaml:"country"`
	LinkedIn  string `yaml:"linkedin"`
	Website   string `yaml:"website"`
}

type Work struct {
	CurrentTitle    string   `yaml:"current_title"`
	CurrentCompany  string   `yaml:"current_company"`
	YearsExperience string   `yaml:"years_experience"`
	Skills          []string `yaml:"skills"`
	Summary         string   `yaml:"summary"`
}

type Education struct {
	Degree         string `yaml:"degree"`
	Field          string `yaml:"field"`
	School         string `yaml:"school"`
	GraduationYear string `yaml:"graduation_year"`
}

type Preferences struct {
	Remote              string `yaml:"remote"`
	Relocation          string `yaml:"relocation"`
	SalaryExpectation   string `yaml:"salary_expectation"`
	NoticePeriod        string `yaml:"notice_period"`
	WorkAuthorization   string `yaml:"work_authorization"`
	RequiresSponsorship string `yaml:"requires_sponsorship"`
}

// node is one level of the dotted-path tree. Leaves carry a getter.
type node struct {
	get      func(*Profile) string
	children map[string]*node
}

func leaf(get func(*Profile) string) *node { return &node{get: get} }

var schemaTree = &node{children: map[string]*node{
	"personal": {children: map[string]*node{
		"first_name": leaf(func(p *Profile) string { return p.Personal.FirstName }),
		"last_name":  leaf(func(p *Profile) string { return p.Personal.LastName }),
		"full_name": leaf(func(p *Profile) string {
			return strings.TrimSpace(p.Personal.FirstName + " " + p.Personal.LastName)
		}),
		"email":    leaf(func(p *Profile) string { return p.Personal.Email }),
		"phone":    leaf(func(p *Profile) string { return p.Personal.Phone }),
		"city":     leaf(func(p *Profile) string { return p.Personal.City }),
		"country":  leaf(func(p *Profile) string { return p.Personal.Country }),
		"linkedin": leaf(func(p *Profile) string { return p.Personal.LinkedIn }),
		"website":  leaf(func(p *Profile) string { return p.Personal.Website }),
	}},
	"work": {children: map[string]*node{
		"current_title":    leaf(func(p *Profile) string { return p.Work.CurrentTitle }),
		"current_company":  leaf(func(p *Profile) string { return p.Work.CurrentCompany }),
		"years_experience": leaf(func(p *Profile) string { return p.Work.YearsExperience }),
		"skills":           leaf(func(p *Profile) string { return strings.Join(p.Work.Skills, ", ") }),
		"summary":          leaf(func(p *Profile) string { return p.Work.Summary }),
	}},
	"education": {children: map[string]*node{
		"degree":          leaf(func(p *Profile) string { return p.Education.Degree }),
		"field":           leaf(func(p *Profile) string { return p.Education.Field }),
		"school":          leaf(func(p *Profile) string { return p.Education.School }),
		"graduation_year": leaf(func(p *Profile) string { return p.Education.GraduationYear }),
	}},
	"preferences": {children: map[string]*node{
		"remote":               leaf(func(p *Profile) string { return p.Preferences.Remote }),
		"relocation":           leaf(func(p *Profile) string { return p.Preferences.Relocation }),
		"salary_expectation":   leaf(func(p *Profile) string { return p.Preferences.SalaryExpectation }),
		"notice_period":        leaf(func(p *Profile) string { return p.Preferences.NoticePeriod }),
		"work_authorization":   leaf(func(p *Profile) string { return p.Preferences.WorkAuthorization }),
		"requires_sponsorship": leaf(func(p *Profile) string { return p.Preferences.RequiresSponsorship }),
	}},
}}

// Get resolves a dotted path such as "personal.email".
func (p *Profile) Get(path string) (string, error) {
	n := schemaTree
	for _, part := range strings.Split(strings.ToLower(strings.TrimSpace(path)), ".") {
		child, ok := n.children[part]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownPath, path)
		}
		n = child
	}
	if n.get == nil {
		return "", fmt.Errorf("%q is a section, not a field", path)
	}
	return strings.TrimSpace(n.get(p)), nil
}

// Paths lists every leaf path, sorted.
func Paths() []string {
	var out []string
	var walk func(prefix string, n *node)
	walk = func(prefix string, n *node) {
		if n.get != nil {
			out = append(out, prefix)
			return
		}
		for name, child := range n.children {
			if prefix == "" {
				walk(name, child)
			} else {
				walk(prefix+"."+name, child)
			}
		}
	}
	walk("", schemaTree)
	sort.Strings(out)
	return out
}

// lookupRules map question phrases to profile paths. Order matters: specific
// phrases come before generic ones.
var lookupRules = []struct {
	phrases []string
	path    string
}{
	{[]string{"first name", "given name"}, "personal.first_name"},
	{[]string{"last name", "surname", "family name"}, "personal.last_name"},
	{[]string{"email"}, "personal.email"},
	{[]string{"phone", "mobile", "telephone"}, "personal.phone"},
	{[]string{"linkedin"}, "personal.linkedin"},
	{[]string{"website", "portfolio"}, "personal.website"},
	{[]string{"city"}, "personal.city"},
	{[]string{"country"}, "personal.country"},
	{[]string{"years of experience", "years experience"}, "work.years_experience"},
	{[]string{"job title", "current title"}, "work.current_title"},
	{[]string{"current company", "current employer", "employer"}, "work.current_company"},
	{[]string{"skills"}, "work.skills"},
	{[]string{"degree"}, "education.degree"},
	{[]string{"field of study", "major"}, "education.field"},
	{[]string{"school", "university", "college"}, "education.school"},
	{[]string{"graduation"}, "education.graduation_year"},
	{[]string{"salary", "compensation"}, "preferences.salary_expectation"},
	{[]string{"notice period", "start date"}, "preferences.notice_period"},
	{[]string{"sponsorship", "visa"}, "preferences.requires_sponsorship"},
	{[]string{"authorized to work", "work authorization", "legally"}, "preferences.work_authorization"},
	{[]string{"relocate", "relocation"}, "preferences.relocation"},
	{[]string{"remote"}, "preferences.remote"},
	{[]string{"location"}, "personal.city"},
	{[]string{"full name", "your name", "name"}, "personal.full_name"},
}

// Lookup maps a question to the first rule whose phrase occurs in it as whole
// words and whose field is filled in.
func (p *Profile) Lookup(question string) (path, value string, ok bool) {
	q := " " + normalize(question) + " "
	for _, rule := range lookupRules {
		for _, phrase := range rule.phrases {
			if !strings.Contains(q, " "+phrase+" ") {
				continue
			}
			v, err := p.Get(rule.path)
			if err == nil && v != "" {
				return rule.path, v, true
			}
		}
	}
	return "", "", false
}

// YAML renders the profile document, used to ground generated answers.
func (p *Profile) YAML() (string, error) {
	out, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	return string(out), nil
}

func normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
