package report

import (
	"encoding/json"
	"fmt"

	coreapp "unremark/internal/core/app"
	"unremark/internal/shared/version"
)

// SARIF v2.1.0 schema – see https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json

const (
	sarifSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
	sarifVersion = "2.1.0"

	ruleIDRedundant    = "UNR001"
	ruleIDParseFailure = "UNR002"
	ruleIDFixRejected  = "UNR003"
)

// sarifReport is the top-level SARIF document.
type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription sarifMessage           `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaultConfig `json:"defaultConfiguration"`
}

type sarifRuleDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID     string          `json:"ruleId"`
	Level      string          `json:"level"`
	Message    sarifMessage    `json:"message"`
	Locations  []sarifLocation `json:"locations,omitempty"`
	Properties map[string]any  `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
}

// GenerateSARIF builds a SARIF v2.1.0 document from a run. File URIs are
// made relative to projectRoot when they fall inside it.
func GenerateSARIF(projectRoot string, res *coreapp.RunResult) ([]byte, error) {
	results := make([]sarifResult, 0)
	var redundant, parseFailures, fixRejections int

	for _, f := range res.Files {
		uri := relPath(projectRoot, f.Path)
		if f.ParseErr != nil {
			parseFailures++
			results = append(results, sarifResult{
				RuleID:    ruleIDParseFailure,
				Level:     "error",
				Message:   sarifMessage{Text: "File could not be parsed: " + f.ParseErr.Error()},
				Locations: []sarifLocation{fileLocation(uri, nil)},
			})
			continue
		}
		for _, c := range f.Redundant() {
			redundant++
			results = append(results, sarifResult{
				RuleID:  ruleIDRedundant,
				Level:   "warning",
				Message: sarifMessage{Text: fmt.Sprintf("Redundant comment: %s", firstLine(c.Text))},
				Locations: []sarifLocation{fileLocation(uri, &sarifRegion{
					StartLine:   c.Line(),
					StartColumn: columnOf(f.Source, c.Bytes.Start),
					EndLine:     c.Lines.End,
				})},
				Properties: map[string]any{
					"confidence": c.Verdict.Confidence,
					"source":     string(c.Verdict.Source),
				},
			})
		}
		if f.FixErr != nil {
			fixRejections++
			results = append(results, sarifResult{
				RuleID:    ruleIDFixRejected,
				Level:     "warning",
				Message:   sarifMessage{Text: "Rewrite rejected, file left unchanged: " + f.FixErr.Error()},
				Locations: []sarifLocation{fileLocation(uri, nil)},
			})
		}
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:    "unremark",
						Version: version.Version,
						Rules:   buildSARIFRules(redundant, parseFailures, fixRejections),
					},
				},
				Results: results,
			},
		},
	}

	return json.MarshalIndent(report, "", "  ")
}

// buildSARIFRules returns only the rules that are relevant for the given findings.
func buildSARIFRules(redundant, parseFailures, fixRejections int) []sarifRule {
	rules := make([]sarifRule, 0, 3)
	if redundant > 0 {
		rules = append(rules, sarifRule{
			ID:               ruleIDRedundant,
			Name:             "RedundantComment",
			ShortDescription: sarifMessage{Text: "Comment restates the code it is attached to."},
			DefaultConfig:    sarifRuleDefaultConfig{Level: "warning"},
		})
	}
	if parseFailures > 0 {
		rules = append(rules, sarifRule{
			ID:               ruleIDParseFailure,
			Name:             "ParseFailure",
			ShortDescription: sarifMessage{Text: "Source file could not be parsed."},
			DefaultConfig:    sarifRuleDefaultConfig{Level: "error"},
		})
	}
	if fixRejections > 0 {
		rules = append(rules, sarifRule{
			ID:               ruleIDFixRejected,
			Name:             "RewriteRejected",
			ShortDescription: sarifMessage{Text: "Removing comments would have changed the code; the file was left unchanged."},
			DefaultConfig:    sarifRuleDefaultConfig{Level: "warning"},
		})
	}
	return rules
}

func fileLocation(uri string, region *sarifRegion) sarifLocation {
	return sarifLocation{
		PhysicalLocation: sarifPhysicalLocation{
			ArtifactLocation: sarifArtifactLocation{
				URI:       uri,
				URIBaseID: "%SRCROOT%",
			},
			Region: region,
		},
	}
}
