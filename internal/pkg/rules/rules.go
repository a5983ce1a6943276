// Package rules loads statutory deduction templates from a YAML rule file so
// a jurisdiction's tax tables can be shipped without a database.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type document struct {
	Jurisdictions map[string][]templateEntry `yaml:"jurisdictions"`
}

type templateEntry struct {
	ID              string         `yaml:"id"`
	Code            string         `yaml:"code"`
	Name            string         `yaml:"name"`
	Method          string         `yaml:"method"`
	Mandatory       bool           `yaml:"mandatory"`
	EmployerPayable bool           `yaml:"employer_payable"`
	EmployeeRate    string         `yaml:"employee_rate"`
	EmployerRate    string         `yaml:"employer_rate"`
	MinSalary       string         `yaml:"min_salary"`
	MaxSalary       string         `yaml:"max_salary"`
	Amount          string         `yaml:"amount"`
	EffectiveFrom   string         `yaml:"effective_from"`
	EffectiveTo     string         `yaml:"effective_to"`
	Brackets        []bracketEntry `yaml:"brackets"`
	Rebates         []rebateEntry  `yaml:"rebates"`
}

type bracketEntry struct {
	Min            string `yaml:"min"`
	Max            string `yaml:"max"`
	Rate           string `yaml:"rate"`
	Amount         string `yaml:"amount"`
	EmployerAmount string `yaml:"employer_amount"`
}

type rebateEntry struct {
	Name   string `yaml:"name"`
	Amount string `yaml:"amount"`
}

// Source serves deduction templates parsed from a rule file.
type Source struct {
	byJurisdiction map[string][]payroll.DeductionTemplate
}

// Load reads and parses the rule file at path.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse converts a YAML rule document into deduction templates. Bracket
// lists are stored in the same JSON rule payload the database uses.
func Parse(data []byte) (*Source, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	src := &Source{byJurisdiction: make(map[string][]payroll.DeductionTemplate, len(doc.Jurisdictions))}
	seen := make(map[string]bool)
	for jurisdiction, entries := range doc.Jurisdictions {
		for i, entry := range entries {
			tpl, err := entry.toTemplate(jurisdiction)
			if err != nil {
				return nil, fmt.Errorf("jurisdiction %s template %d: %w", jurisdiction, i, err)
			}
			if seen[tpl.ID] {
				return nil, fmt.Errorf("jurisdiction %s: duplicate template id %q", jurisdiction, tpl.ID)
			}
			seen[tpl.ID] = true
			src.byJurisdiction[jurisdiction] = append(src.byJurisdiction[jurisdiction], tpl)
		}
	}
	return src, nil
}

// ListDeductionTemplates returns the jurisdiction's templates effective on date, in file order.
func (s *Source) ListDeductionTemplates(ctx context.Context, jurisdictionID string, date time.Time) ([]payroll.DeductionTemplate, error) {
	var out []payroll.DeductionTemplate
	for _, tpl := range s.byJurisdiction[jurisdictionID] {
		if tpl.IsEffective(date) {
			out = append(out, tpl)
		}
	}
	return out, nil
}

// Jurisdictions lists the jurisdictions present in the file.
func (s *Source) Jurisdictions() []string {
	out := make([]string, 0, len(s.byJurisdiction))
	for j := range s.byJurisdiction {
		out = append(out, j)
	}
	return out
}

func (entry templateEntry) toTemplate(jurisdiction string) (payroll.DeductionTemplate, error) {
	if strings.TrimSpace(entry.ID) == "" {
		return payroll.DeductionTemplate{}, fmt.Errorf("id is required")
	}
	method := payroll.StatutoryMethod(entry.Method)
	switch method {
	case payroll.StatutoryMethodPercentage, payroll.StatutoryMethodProgressiveBracket,
		payroll.StatutoryMethodSalaryBracket, payroll.StatutoryMethodFlatAmount:
	default:
		return payroll.DeductionTemplate{}, fmt.Errorf("template %s: unsupported method %q", entry.ID, entry.Method)
	}

	p := &parser{templateID: entry.ID}
	tpl := payroll.DeductionTemplate{
		ID:                entry.ID,
		JurisdictionID:    jurisdiction,
		Code:              entry.Code,
		Name:              entry.Name,
		Method:            method,
		IsMandatory:       entry.Mandatory,
		IsEmployerPayable: entry.EmployerPayable,
		EmployeeRate:      p.decimal("employee_rate", entry.EmployeeRate),
		EmployerRate:      p.decimal("employer_rate", entry.EmployerRate),
		MinSalary:         p.optional("min_salary", entry.MinSalary),
		MaxSalary:         p.optional("max_salary", entry.MaxSalary),
	}
	tpl.EffectiveFrom = p.date("effective_from", entry.EffectiveFrom)
	if entry.EffectiveTo != "" {
		to := p.date("effective_to", entry.EffectiveTo)
		tpl.EffectiveTo = &to
	}

	rules := payroll.StatutoryRules{Amount: p.optional("amount", entry.Amount)}
	for i, b := range entry.Brackets {
		field := fmt.Sprintf("brackets[%d]", i)
		rules.Brackets = append(rules.Brackets, payroll.Bracket{
			Min:            p.decimal(field+".min", b.Min),
			Max:            p.optional(field+".max", b.Max),
			Rate:           p.decimal(field+".rate", b.Rate),
			Amount:         p.decimal(field+".amount", b.Amount),
			EmployerAmount: p.decimal(field+".employer_amount", b.EmployerAmount),
		})
	}
	for i, r := range entry.Rebates {
		rules.Rebates = append(rules.Rebates, payroll.Rebate{
			Name:   r.Name,
			Amount: p.decimal(fmt.Sprintf("rebates[%d].amount", i), r.Amount),
		})
	}
	if p.err != nil {
		return payroll.DeductionTemplate{}, p.err
	}

	raw, err := json.Marshal(rules)
	if err != nil {
		return payroll.DeductionTemplate{}, fmt.Errorf("template %s: failed to encode rules: %w", entry.ID, err)
	}
	tpl.Rules = raw
	return tpl, nil
}

// parser keeps the first conversion error.
type parser struct {
	templateID string
	err        error
}

func (p *parser) fail(field, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("template %s: invalid %s %q: %w", p.templateID, field, value, err)
	}
}

func (p *parser) decimal(field, value string) decimal.Decimal {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		p.fail(field, value, err)
	}
	return d
}

func (p *parser) optional(field, value string) *decimal.Decimal {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	d := p.decimal(field, value)
	return &d
}

func (p *parser) date(field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		p.fail(field, value, err)
	}
	return t
}
