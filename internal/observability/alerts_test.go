package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestBillingAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "backoffice.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var billing *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "billing" {
			billing = &spec.Groups[i]
			break
		}
	}
	if billing == nil {
		t.Fatal("billing alert group missing")
	}

	expected := map[string]struct {
		severity string
		metric   string
	}{
		"HighErrorRate":         {severity: "critical", metric: "backoffice_http_requests_total"},
		"ClaimGenerationFailed": {severity: "warning", metric: "backoffice_jobs_failures_total"},
		"UnbalancedJournal":     {severity: "critical", metric: "backoffice_finance_unbalanced_journals"},
	}

	if len(billing.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(billing.Rules))
	}

	for _, rule := range billing.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if !strings.Contains(rule.Expr, want.metric) {
			t.Fatalf("rule %s must query %s, got %q", rule.Alert, want.metric, rule.Expr)
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
