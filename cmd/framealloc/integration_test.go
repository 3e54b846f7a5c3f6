package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// ScenarioSpec is one end-to-end allocation case
type ScenarioSpec struct {
	Name        string         `yaml:"name"`
	Args        []string       `yaml:"args"`
	Input       string         `yaml:"input"`
	Generate    *GenerateSpec  `yaml:"generate"`
	Fail        bool           `yaml:"fail"`
	Expect      []string       `yaml:"expect"`
	ExpectErr   []string       `yaml:"expect_err"`
	ExpectNot   []string       `yaml:"expect_not"`
	ExpectCount map[string]int `yaml:"expect_count"`
	Skip        string         `yaml:"skip,omitempty"`
}

// GenerateSpec builds a program with one function holding Count locals
type GenerateSpec struct {
	Count int    `yaml:"count"`
	Type  string `yaml:"type"`
	Place string `yaml:"place"`
}

// ScenarioFile is the scenarios.yaml file structure
type ScenarioFile struct {
	Tests []ScenarioSpec `yaml:"tests"`
}

func (g *GenerateSpec) source() string {
	var b strings.Builder
	b.WriteString("functions:\n  - name: main\n    locals:\n")
	for i := 0; i < g.Count; i++ {
		fmt.Fprintf(&b, "      - {name: v%03d, type: %s, place: %s}\n", i, g.Type, g.Place)
	}
	return b.String()
}

func TestIntegrationScenarios(t *testing.T) {
	data, err := os.ReadFile("testdata/scenarios.yaml")
	if err != nil {
		t.Fatalf("failed to read scenarios.yaml: %v", err)
	}
	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("failed to parse scenarios.yaml: %v", err)
	}
	if len(file.Tests) == 0 {
		t.Fatal("scenarios.yaml has no tests")
	}

	for _, tc := range file.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}
			input := tc.Input
			if tc.Generate != nil {
				input = tc.Generate.source()
			}
			testFile := filepath.Join(t.TempDir(), "input.yaml")
			if err := os.WriteFile(testFile, []byte(input), 0644); err != nil {
				t.Fatalf("failed to write test file: %v", err)
			}

			var out, errOut bytes.Buffer
			cmd := newRootCmd(&out, &errOut)
			args := append([]string{"--target", "test"}, tc.Args...)
			cmd.SetArgs(normalizeFlags(append(args, testFile)))
			err := cmd.Execute()

			if tc.Fail && err == nil {
				t.Fatalf("expected failure, got none\nstdout:\n%s", out.String())
			}
			if !tc.Fail && err != nil {
				t.Fatalf("unexpected error: %v\nstderr:\n%s", err, errOut.String())
			}

			stdout := out.String()
			for _, want := range tc.Expect {
				if !strings.Contains(stdout, want) {
					t.Errorf("stdout missing %q\n--- stdout ---\n%s", want, stdout)
				}
			}
			for _, bad := range tc.ExpectNot {
				if strings.Contains(stdout, bad) {
					t.Errorf("stdout should not contain %q\n--- stdout ---\n%s", bad, stdout)
				}
			}
			for want, n := range tc.ExpectCount {
				if got := strings.Count(stdout, want); got != n {
					t.Errorf("stdout has %d occurrences of %q, want %d", got, want, n)
				}
			}
			stderr := errOut.String()
			for _, want := range tc.ExpectErr {
				if !strings.Contains(stderr, want) {
					t.Errorf("stderr missing %q\n--- stderr ---\n%s", want, stderr)
				}
			}
		})
	}
}
